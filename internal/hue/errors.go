package hue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized means the bridge refused the application key. Retrying
	// will not help.
	ErrUnauthorized = errors.New("bridge rejected application key")

	// ErrMaxReconnectsExceeded is returned when the event stream gives up reconnecting.
	ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("bridge session closed")
)

// TransportError is a network or protocol failure talking to the bridge.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HueError is one entry of the CLIP v2 error envelope.
type HueError struct {
	Description string `json:"description"`
}

// BridgeRejected is returned when the bridge understood a request but refused it,
// e.g. an out-of-range value.
type BridgeRejected struct {
	Status int
	Errors []HueError
}

func (e *BridgeRejected) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("bridge rejected request (status %d)", e.Status)
	}
	descs := make([]string, len(e.Errors))
	for i, he := range e.Errors {
		descs[i] = he.Description
	}
	return fmt.Sprintf("bridge rejected request (status %d): %s", e.Status, strings.Join(descs, "; "))
}
