package tree

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LockDownError is returned when a transaction attempts to access a
// path that has been locked down administratively. It is reported
// with code PERMISSION_DENIED, just like regular ACL violations, but
// can be distinguished from those using IsLockDown().
type LockDownError struct {
	Path string
}

func (e *LockDownError) Error() string {
	return e.GRPCStatus().Err().Error()
}

// GRPCStatus converts the error to a gRPC status, so that
// status.Code() and status.Convert() can be used on it.
func (e *LockDownError) GRPCStatus() *status.Status {
	return status.New(codes.PermissionDenied, fmt.Sprintf("Path %#v is locked down", e.Path))
}

// IsLockDown returns true if an error was caused by accessing a path
// that is locked down.
func IsLockDown(err error) bool {
	var lockDownError *LockDownError
	return errors.As(err, &lockDownError)
}

// IsRetriable returns true if an operation that failed with a given
// error may succeed when retried from scratch. This is the case for
// lock acquisition timeouts.
func IsRetriable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

func newACLError(path string, perm fmt.Stringer) error {
	return status.Errorf(codes.PermissionDenied, "Access to %#v with permission %s is denied", path, perm)
}

func newNodeNotFoundError(path string) error {
	return status.Errorf(codes.NotFound, "Node %#v does not exist", path)
}
