//go:build !linux

package camera

import (
	"context"
	"errors"
)

// V4L2Device is a Video4Linux capture node. Other platforms have none.
type V4L2Device struct {
	Path string
}

func (d V4L2Device) Open(context.Context, Constraints) (Stream, error) {
	return nil, &Error{Kind: KindNotFound, Err: errors.New("video4linux is only available on linux")}
}
