package domain

import "errors"

var (
	ErrPeerNotFound      = errors.New("peer not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrInviteNotFound    = errors.New("invite not found")
	ErrNoActiveCall      = errors.New("no active call")
	ErrNotConnected      = errors.New("signaling channel not connected")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrScreenShareActive = errors.New("screen share already active")
)
