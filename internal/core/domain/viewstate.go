package domain

// ViewMode says which surface currently renders the call.
type ViewMode string

const (
	ViewModeFull    ViewMode = "full"
	ViewModeOverlay ViewMode = "overlay"
)

// WindowPosition is the persisted position of the floating call window.
type WindowPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ViewState is the cross-view coordination state consulted to decide whether
// an overlay should render. Changes are pushed to watchers instead of being
// polled out of shared storage.
type ViewState struct {
	Window         WindowPosition `json:"window"`
	ViewedServerID ServerID       `json:"viewedServerId"`
	Mode           ViewMode       `json:"viewMode"`
}
