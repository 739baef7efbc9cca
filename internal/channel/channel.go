// Package channel runs the per-camera capture loop that splits every frame
// into an anonymized public path and an encrypted evidence path.
package channel

import (
	"context"
	"strconv"
	"sync"
	"time"

	"edgevision/internal/audit"
	"edgevision/internal/logger"
	"edgevision/internal/model"

	"golang.org/x/time/rate"
)

const (
	defaultConnectBackoff = 5 * time.Second
	defaultReadBackoff    = 2 * time.Second
	defaultTargetFPS      = 30
	fpsWindow             = time.Second
)

// Config identifies a channel and its pacing.
type Config struct {
	ID             int
	Name           string
	Source         string
	TargetFPS      int
	ConnectBackoff time.Duration
	ReadBackoff    time.Duration
}

// Deps are the collaborators a channel drives. Recorder and Evidence are
// owned by the channel and closed when Run returns.
type Deps struct {
	Opener     SourceOpener
	Detector   Detector
	Anonymizer Anonymizer
	Recorder   VideoRecorder
	Evidence   EvidenceSink
}

// Channel processes one camera on its own goroutine.
type Channel struct {
	cfg     Config
	deps    Deps
	logger  *logger.Logger
	audit   *audit.Trail
	limiter *rate.Limiter

	mu          sync.Mutex
	status      model.ChannelStatus
	fps         float64
	detections  int
	frames      int64
	lastFrameAt time.Time
	latest      model.Frame
	windowStart time.Time
	windowCount int

	// OnFrame receives every anonymized frame with its detection count.
	// It runs on the channel goroutine and must not retain the frame data.
	OnFrame func(id int, frame model.Frame, detections int)

	now func() time.Time
}

// New creates a channel. Call Run to start it.
func New(cfg Config, deps Deps, log *logger.Logger, trail *audit.Trail) *Channel {
	if cfg.Name == "" {
		cfg.Name = "cam" + strconv.Itoa(cfg.ID)
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = defaultTargetFPS
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = defaultConnectBackoff
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = defaultReadBackoff
	}

	return &Channel{
		cfg:     cfg,
		deps:    deps,
		logger:  log.With("camera", cfg.Name),
		audit:   trail,
		limiter: rate.NewLimiter(rate.Limit(cfg.TargetFPS), 1),
		status:  model.StatusConnecting,
		now:     time.Now,
	}
}

// ID is the zero-based channel index.
func (c *Channel) ID() int { return c.cfg.ID }

// Name is the camera name used in file names.
func (c *Channel) Name() string { return c.cfg.Name }

// Run drives the capture loop until ctx is cancelled, then closes the
// recorder and evidence buffer.
func (c *Channel) Run(ctx context.Context) {
	var src Source
	defer func() { c.shutdown(src) }()

	for ctx.Err() == nil {
		if src == nil {
			s, err := c.connect()
			if err != nil {
				c.logger.Warning("Failed to open %s: %v", c.cfg.Source, err)
				if !sleep(ctx, c.cfg.ConnectBackoff) {
					return
				}
				continue
			}
			src = s
		}

		frame, err := src.Read()
		if err != nil {
			c.goOffline(src, err)
			src = nil
			if !sleep(ctx, c.cfg.ReadBackoff) {
				return
			}
			continue
		}

		c.process(frame)

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

// Rotate requests a new public file on the next frame.
func (c *Channel) Rotate() {
	c.deps.Recorder.Rotate()
}

// CurrentFile is the public file being written, or "".
func (c *Channel) CurrentFile() string {
	return c.deps.Recorder.CurrentFile()
}

// Snapshot returns the channel's current status.
func (c *Channel) Snapshot() model.ChannelSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ChannelSnapshot{
		ID:          c.cfg.ID,
		Name:        c.cfg.Name,
		Source:      c.cfg.Source,
		Status:      c.status,
		FPS:         c.fps,
		Detections:  c.detections,
		Frames:      c.frames,
		LastFrameAt: c.lastFrameAt,
	}
}

// LatestFrame returns a copy of the last anonymized frame.
func (c *Channel) LatestFrame() (model.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest.Empty() {
		return model.Frame{}, false
	}
	return c.latest.Clone(), true
}

func (c *Channel) connect() (Source, error) {
	c.setStatus(model.StatusConnecting)
	src, err := c.deps.Opener.Open(c.cfg.Source)
	if err != nil {
		c.setStatus(model.StatusOffline)
		return nil, err
	}

	c.setStatus(model.StatusOnline)
	c.logger.Info("📷 Camera %s online (%s)", c.cfg.Name, c.cfg.Source)
	c.audit.Info(audit.EventCameraOnline, "camera online", map[string]string{"camera": c.cfg.Name})
	return src, nil
}

// goOffline finishes the open public file and evidence buffer before the
// capture handle is released.
func (c *Channel) goOffline(src Source, cause error) {
	c.setStatus(model.StatusOffline)
	c.logger.Warning("Camera %s went offline: %v", c.cfg.Name, cause)
	c.audit.Warn(audit.EventCameraOffline, cause.Error(), map[string]string{"camera": c.cfg.Name})

	c.deps.Recorder.Finalize()
	c.deps.Evidence.FlushNow()
	if err := src.Close(); err != nil {
		c.logger.Debug("Failed to release %s: %v", c.cfg.Source, err)
	}
}

func (c *Channel) shutdown(src Source) {
	c.deps.Recorder.Close()
	c.deps.Evidence.Close()
	if src != nil {
		src.Close()
	}
	c.setStatus(model.StatusOffline)
	c.logger.Info("Camera %s stopped", c.cfg.Name)
}

// process runs one frame through both paths. The evidence path always gets
// the unblurred frame; the public path only ever gets a blurred one.
func (c *Channel) process(frame model.Frame) {
	if frame.Captured.IsZero() {
		frame.Captured = c.now()
	}

	normalized, err := c.deps.Anonymizer.Normalize(frame)
	if err != nil {
		c.logger.Error("Failed to normalize frame: %v", err)
		return
	}
	if normalized.Captured.IsZero() {
		normalized.Captured = frame.Captured
	}

	detections := c.detect(normalized)

	public, blurErr := c.deps.Anonymizer.Blur(normalized, detections)
	if blurErr != nil {
		c.logger.Error("Failed to blur frame, skipping public output: %v", blurErr)
	} else if err := c.deps.Recorder.Write(public, detections); err != nil {
		c.logger.Error("Failed to record frame: %v", err)
	}

	if err := c.deps.Evidence.Add(normalized, detections, normalized.Captured, c.deps.Recorder.SyncTimestamp()); err != nil {
		c.logger.Error("Failed to buffer evidence: %v", err)
	}

	c.updateStats(public, len(detections), blurErr == nil)

	if blurErr == nil && c.OnFrame != nil {
		c.OnFrame(c.cfg.ID, public, len(detections))
	}
}

// detect treats a failing or panicking detector as "nothing found".
func (c *Channel) detect(frame model.Frame) (detections []model.DetectionBox) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Detector panic: %v", r)
			detections = nil
		}
	}()

	detections, err := c.deps.Detector.Detect(frame)
	if err != nil {
		c.logger.Debug("Detection failed: %v", err)
		return nil
	}
	return detections
}

func (c *Channel) updateStats(public model.Frame, detections int, published bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames++
	c.detections = detections
	c.lastFrameAt = now
	if published {
		c.latest = public
	}

	// The frame that opens a window is not counted, so windowCount is the
	// number of frame intervals since windowStart.
	if c.windowStart.IsZero() {
		c.windowStart = now
		return
	}
	c.windowCount++
	if elapsed := now.Sub(c.windowStart); elapsed >= fpsWindow {
		c.fps = float64(c.windowCount) / elapsed.Seconds()
		c.windowStart = now
		c.windowCount = 0
	}
}

func (c *Channel) setStatus(s model.ChannelStatus) {
	c.mu.Lock()
	c.status = s
	if s != model.StatusOnline {
		c.fps = 0
		c.windowStart = time.Time{}
		c.windowCount = 0
	}
	c.mu.Unlock()
}

// sleep waits for d or until ctx is done, reporting whether to keep going.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
