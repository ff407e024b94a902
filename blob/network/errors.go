package network

import (
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-blobupload/blob/network/chunkuploader"
)

// ErrCancelled is returned when the caller cancelled the upload before it finished.
var ErrCancelled = chunkuploader.ErrCancelled

// NetworkError is a transport failure: no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

// Unwrap ...
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Temporary ...
func (e *NetworkError) Temporary() bool {
	return true
}

// ServerError is a response the server rejected: a non-2xx status, or an
// error code inside a 2xx body.
type ServerError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: HTTP %d: code %d: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *ServerError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// ProtocolError is a successful response that lacks a field the protocol requires,
// or a body that could not be decoded.
type ProtocolError struct {
	Op    string
	Field string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed %s: %s", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: response is missing %s", e.Op, e.Field)
}

// Unwrap ...
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
