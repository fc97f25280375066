package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

type Kind string

const (
	KindPermissionDenied Kind = "permission-denied"
	KindNotFound         Kind = "not-found"
	KindBusy             Kind = "busy"
	KindUnknown          Kind = "unknown"
)

var (
	ErrCaptureInProgress = errors.New("camera: capture already in progress")
	ErrNotReady          = errors.New("camera: not ready")
	ErrClosed            = errors.New("camera: closed")
)

// Error is a classified acquisition failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %s", e.Kind)
	}
	return fmt.Sprintf("camera %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the sentence shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Camera access was denied. Please allow camera access to continue."
	case KindNotFound:
		return "No camera was found on this device. Please connect a camera to continue."
	case KindBusy:
		return "The camera is currently in use by another application."
	default:
		return "An unknown camera error occurred."
	}
}

// Classify wraps err in an *Error. Errors that already carry a kind keep it.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EACCES, syscall.EPERM:
			return &Error{Kind: KindPermissionDenied, Err: err}
		case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
			return &Error{Kind: KindNotFound, Err: err}
		case syscall.EBUSY:
			return &Error{Kind: KindBusy, Err: err}
		}
	}

	switch {
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: KindNotFound, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}
