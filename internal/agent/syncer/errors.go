package syncer

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a failed sync.
type Kind string

const (
	// NetworkUnavailable covers anything that may succeed on retry.
	NetworkUnavailable Kind = "network_unavailable"
	// ServerRejected means the server no longer recognizes this device or installation.
	ServerRejected Kind = "server_rejected"
)

// SyncError is returned by SyncOnce when talking to the server failed.
type SyncError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is a ServerRejected SyncError.
func IsRejected(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == ServerRejected
}

func classify(op string, err error) *SyncError {
	kind := NetworkUnavailable
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied:
		kind = ServerRejected
	}
	return &SyncError{Kind: kind, Op: op, Err: err}
}
