package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ChannelIDRegex validates channel ID format
	ChannelIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// AttendeeIDRegex validates attendee ID format
	AttendeeIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateChannelID validates channel ID
func ValidateChannelID(channelID string) error {
	if channelID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if len(channelID) > 100 {
		return fmt.Errorf("channel ID is too long (max 100 characters)")
	}
	if !ChannelIDRegex.MatchString(channelID) {
		return fmt.Errorf("invalid channel ID format")
	}
	return nil
}

// ValidateAttendeeID validates attendee ID
func ValidateAttendeeID(attendeeID string) error {
	if attendeeID == "" {
		return fmt.Errorf("attendee ID is required")
	}
	if len(attendeeID) > 100 {
		return fmt.Errorf("attendee ID is too long (max 100 characters)")
	}
	if !AttendeeIDRegex.MatchString(attendeeID) {
		return fmt.Errorf("invalid attendee ID format")
	}
	return nil
}

// ValidateChannelName validates a human-readable channel name
func ValidateChannelName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("channel name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("channel name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("channel name contains invalid characters")
	}
	return nil
}

// ValidateSignalingURL validates the signaling server URL
func ValidateSignalingURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("signaling URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid signaling URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid signaling URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("signaling URL must have a host")
	}
	return nil
}

// ValidateBitrate validates bitrate value
func ValidateBitrate(bitrate int) error {
	if bitrate < 100 {
		return fmt.Errorf("bitrate must be at least 100 kbps")
	}
	if bitrate > 10000 {
		return fmt.Errorf("bitrate is too high (max 10000 kbps)")
	}
	return nil
}

// ValidateQuality validates a declared media quality level
func ValidateQuality(quality string) error {
	validQualities := map[string]bool{
		"low":    true,
		"medium": true,
		"high":   true,
		"auto":   true,
	}
	if !validQualities[quality] {
		return fmt.Errorf("invalid quality level (must be low, medium, high, or auto)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
