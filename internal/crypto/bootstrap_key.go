package crypto

import (
	"context"
	"sync"
	"time"
)

// RotationPeriod is the bootstrap key lifetime: 180 seconds of inactivity
// before a fresh key is minted (spec.md §4.3).
const RotationPeriod = 180 * time.Second

// BootstrapKeyRing owns the rotating key used only to decrypt frames
// bearing the literal account "-----" (an unregistered client requesting
// registration). It is grounded on
// original_source/connect_core/account/register_system.py's
// _spawn_password background loop: a timer that only rotates once it has
// gone RotationPeriod without an intervening Current() call.
type BootstrapKeyRing struct {
	mu      sync.Mutex
	current string
	reset   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBootstrapKeyRing mints the first key and starts the rotation
// goroutine. Close cancels it.
func NewBootstrapKeyRing() (*BootstrapKeyRing, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	ring := &BootstrapKeyRing{
		current: key,
		reset:   make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go ring.run(ctx)
	return ring, nil
}

func (r *BootstrapKeyRing) run(ctx context.Context) {
	defer close(r.done)
	timer := time.NewTimer(RotationPeriod)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.reset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(RotationPeriod)
		case <-timer.C:
			next, err := GenerateKey()
			if err == nil {
				r.mu.Lock()
				r.current = next
				r.mu.Unlock()
			}
			timer.Reset(RotationPeriod)
		}
	}
}

// Current returns the active bootstrap key and resets the 180-second idle
// timer — "an operator asking for the bootstrap key pins it long enough to
// hand to a human" (spec.md §4.3).
func (r *BootstrapKeyRing) Current() string {
	select {
	case r.reset <- struct{}{}:
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Raw returns the active bootstrap key without resetting the timer — used
// internally to decrypt inbound register frames, which must not pin the key
// the way an operator's explicit request does.
func (r *BootstrapKeyRing) Raw() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close stops the rotation goroutine and waits for it to exit.
func (r *BootstrapKeyRing) Close() {
	r.cancel()
	<-r.done
}
