package channel

import (
	"context"
	"sync"

	"edgevision/internal/logger"
	"edgevision/internal/model"
)

// System runs a fixed set of channels and answers queries about them. It
// replaces any process-wide registry of cameras.
type System struct {
	channels []*Channel
	logger   *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSystem wraps channels, indexed by their position.
func NewSystem(channels []*Channel, log *logger.Logger) *System {
	return &System{channels: channels, logger: log}
}

// Start launches one goroutine per channel. It is a no-op when running.
func (s *System) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, ch := range s.channels {
		s.wg.Add(1)
		go func(ch *Channel) {
			defer s.wg.Done()
			ch.Run(ctx)
		}(ch)
	}
	s.logger.Info("🚀 Started %d channel(s)", len(s.channels))
}

// Stop cancels every channel and waits until each has closed its files.
func (s *System) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("All channels stopped")
}

// Running reports whether Start was called without a matching Stop.
func (s *System) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Channels returns the managed channels in index order.
func (s *System) Channels() []*Channel {
	return s.channels
}

// Snapshots returns the status of every channel.
func (s *System) Snapshots() []model.ChannelSnapshot {
	out := make([]model.ChannelSnapshot, len(s.channels))
	for i, ch := range s.channels {
		out[i] = ch.Snapshot()
	}
	return out
}

// Snapshot returns the status of channel id.
func (s *System) Snapshot(id int) (model.ChannelSnapshot, bool) {
	ch := s.get(id)
	if ch == nil {
		return model.ChannelSnapshot{}, false
	}
	return ch.Snapshot(), true
}

// LatestFrame returns the last anonymized frame of channel id.
func (s *System) LatestFrame(id int) (model.Frame, bool) {
	ch := s.get(id)
	if ch == nil {
		return model.Frame{}, false
	}
	return ch.LatestFrame()
}

// Rotate requests a new public file for channel id.
func (s *System) Rotate(id int) bool {
	ch := s.get(id)
	if ch == nil {
		return false
	}
	ch.Rotate()
	return true
}

// RotateAll requests a new public file on every channel.
func (s *System) RotateAll() {
	for _, ch := range s.channels {
		ch.Rotate()
	}
}

// OpenFiles lists the public files currently being written.
func (s *System) OpenFiles() []string {
	var out []string
	for _, ch := range s.channels {
		if p := ch.CurrentFile(); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *System) get(id int) *Channel {
	if id < 0 || id >= len(s.channels) {
		return nil
	}
	return s.channels[id]
}
