package ws2812

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clktmr/timedtransfer/log"
)

// Animator produces the frames of an animation.
type Animator interface {
	// Update advances the animation by one frame. Returning an error stops
	// the animation.
	Update() error

	// Draw renders the current frame.
	Draw(s *Strips)
}

// Run shows a frame of a every period until ctx is done or Update fails.
// A context cancellation isn't reported as error.
func Run(ctx context.Context, s *Strips, a Animator, period time.Duration) error {
	l := log.FromContext(ctx)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		if err := a.Update(); err != nil {
			return err
		}
		a.Draw(s)
		if err := s.Show(); err != nil {
			return err
		}
		if frame%1000 == 0 {
			l.Debug("frame shown", zap.Int("frame", frame))
		}

		select {
		case <-ctx.Done():
			// Don't leave a frame half sent.
			return s.Wait(context.Background())
		case <-ticker.C:
		}
	}
}
