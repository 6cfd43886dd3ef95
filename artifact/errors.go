package artifact

import (
	"errors"
	"fmt"
)

// FetchError is returned when the archive could not be downloaded: network
// failure or a non-2xx response. StatusCode is 0 for transport errors.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("artifact: fetch %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("artifact: fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// ArchiveFormatError is returned when the payload cannot be read as the
// expected zip container, or exceeds the configured size limits.
type ArchiveFormatError struct {
	URL   string
	Cause error
}

func (e *ArchiveFormatError) Error() string {
	return fmt.Sprintf("artifact: archive %s: %v", e.URL, e.Cause)
}

func (e *ArchiveFormatError) Unwrap() error { return e.Cause }

// EntryNotFoundError is returned when no archive entry matches the accepted
// media patterns. Entries lists what the archive did contain.
type EntryNotFoundError struct {
	URL     string
	Entries []string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("artifact: archive %s: no media entry among %d entries", e.URL, len(e.Entries))
}

// ChannelUnavailableError is returned when the shared slot store backing the
// handoff channel cannot be read or written.
type ChannelUnavailableError struct {
	Key   string
	Cause error
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("artifact: handoff slot %q unavailable: %v", e.Key, e.Cause)
}

func (e *ChannelUnavailableError) Unwrap() error { return e.Cause }

// Reason classifies err into one of the taxonomy names, for logging.
// Errors outside the taxonomy report "other".
func Reason(err error) string {
	var (
		fe *FetchError
		ae *ArchiveFormatError
		ne *EntryNotFoundError
		ce *ChannelUnavailableError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &ae):
		return "archive_format"
	case errors.As(err, &ne):
		return "entry_not_found"
	case errors.As(err, &ce):
		return "channel_unavailable"
	default:
		return "other"
	}
}
