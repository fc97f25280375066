package kiosk

import (
	"context"
	"errors"
	"sync"

	"selfie-booth/internal/camera"
	"selfie-booth/internal/workflow"
)

// RunCamera keeps the camera open exactly while the session is in the capture
// step and reports acquisition failures to the workflow. It returns when ctx
// is done, with the camera released.
func (s *Server) RunCamera(ctx context.Context) error {
	if s.cam == nil {
		<-ctx.Done()
		return nil
	}

	s.wf.OnChange(func(prev, next workflow.Session) {
		was := prev.Current() == workflow.StepCapture
		is := next.Current() == workflow.StepCapture
		if was == is {
			return
		}
		select {
		case s.mounts <- is:
		default:
			s.logger.Warn().Bool("mount", is).Msg("camera lifecycle queue full")
		}
	})
	if s.wf.Snapshot().Current() == workflow.StepCapture {
		s.mounts <- true
	}

	var wg sync.WaitGroup
	defer func() {
		if err := s.cam.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("camera close failed")
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case mount := <-s.mounts:
			if !mount {
				if err := s.cam.Close(); err != nil {
					s.logger.Warn().Err(err).Msg("camera close failed")
				}
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.mount(ctx)
			}()
		}
	}
}

func (s *Server) mount(ctx context.Context) {
	err := s.cam.Start(ctx)
	if err == nil || errors.Is(err, camera.ErrClosed) || ctx.Err() != nil {
		return
	}

	ce := camera.Classify(err)
	if derr := s.wf.Dispatch(workflow.CameraFailed{Kind: string(ce.Kind), Message: ce.Message()}); derr != nil {
		s.logger.Error().Err(derr).Msg("could not report camera failure")
	}
}
