package source

import (
	"errors"
	"strings"
)

var (
	// ErrConnect indicates the device or stream could not be opened.
	// The pipeline stays disconnected; the operator may retry.
	ErrConnect = errors.New("source: connect failed")

	// ErrRead indicates a mid-stream fault. The controller treats it as an
	// implicit reconnect request with bounded retries.
	ErrRead = errors.New("source: read failed")

	// ErrNotConnected is returned by NextFrame before a successful Connect.
	ErrNotConnected = errors.New("source: not connected")
)

// ErrorCategory classifies stream faults for telemetry and log context.
type ErrorCategory int

const (
	// CategoryNetwork indicates connection, timeout, or DNS failures
	CategoryNetwork ErrorCategory = iota
	// CategoryCodec indicates decode or format negotiation failures
	CategoryCodec
	// CategoryAuth indicates authentication/authorization failures
	CategoryAuth
	// CategoryUnknown indicates unclassified failures
	CategoryUnknown
)

// String returns a human-readable category name.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryCodec:
		return "codec"
	case CategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify categorizes a fault message for telemetry.
//
// Classification relies on message heuristics: network issues may resolve
// on reconnect, codec and auth issues usually will not. Keyword priority
// is auth > codec > network, most specific first.
func Classify(msg string) ErrorCategory {
	m := strings.ToLower(msg)

	for _, kw := range []string{"unauthorized", "401", "403", "forbidden", "authentication", "credentials"} {
		if strings.Contains(m, kw) {
			return CategoryAuth
		}
	}
	for _, kw := range []string{"codec", "decode", "caps", "negotiation", "no decoder", "missing plugin", "h264"} {
		if strings.Contains(m, kw) {
			return CategoryCodec
		}
	}
	for _, kw := range []string{"connection", "timeout", "unreachable", "network", "dns", "resolve", "socket", "tcp", "udp", "rtsp", "could not connect", "not found"} {
		if strings.Contains(m, kw) {
			return CategoryNetwork
		}
	}
	return CategoryUnknown
}
