// Package evidence buffers the raw, unblurred frames of a channel and seals
// them into encrypted files in the background.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"edgevision/internal/logger"
	"edgevision/internal/model"
	"edgevision/internal/vault"

	"github.com/google/uuid"
)

const (
	// DefaultPrerollFrames is roughly one second of context at 30 fps.
	DefaultPrerollFrames = 30

	defaultQueueSize    = 4
	defaultCloseTimeout = 30 * time.Second
	defaultWindow       = 5 * time.Minute
	timestampLayout     = "20060102_150405"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("evidence buffer closed")

// Encoder compresses a raw frame to JPEG.
type Encoder interface {
	EncodeJPEG(frame model.Frame, quality int) ([]byte, error)
}

// Config describes one channel's evidence buffer.
type Config struct {
	Dir           string
	Camera        string
	Window        time.Duration
	DetectionOnly bool
	PrerollFrames int
	JPEGQuality   int
	QueueSize     int
}

// Sealed describes an evidence file written to disk.
type Sealed struct {
	Path string
	Info SegmentInfo
	Size int64
}

type entry struct {
	record Record
	at     time.Time
}

// job carries a flushed buffer to the encrypt worker. The channel goroutine
// keeps no reference to its records after the send.
type job struct {
	records []Record
	info    SegmentInfo
	path    string
}

// Buffer accumulates evidence for one channel. Add, Flush, FlushNow and
// Close run on the channel goroutine; one background goroutine seals
// flushed buffers.
type Buffer struct {
	cfg     Config
	encoder Encoder
	sealer  vault.Sealer
	logger  *logger.Logger

	main        []entry
	preroll     []entry
	bufferStart time.Time
	syncTS      string
	sequence    int
	closed      bool

	queue chan job
	done  chan struct{}
	wg    sync.WaitGroup

	sealed  atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	// OnSealed is called from the sealing goroutine after each file is
	// written.
	OnSealed func(Sealed)
	// OnSealFailed is called when a flushed buffer could not be written.
	OnSealFailed func(path string, err error)

	closeTimeout time.Duration
}

// NewBuffer creates a Buffer and starts its encrypt worker.
func NewBuffer(cfg Config, encoder Encoder, sealer vault.Sealer, log *logger.Logger) *Buffer {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.PrerollFrames < 0 {
		cfg.PrerollFrames = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	b := &Buffer{
		cfg:          cfg,
		encoder:      encoder,
		sealer:       sealer,
		logger:       log,
		queue:        make(chan job, cfg.QueueSize),
		done:         make(chan struct{}),
		closeTimeout: defaultCloseTimeout,
	}

	b.wg.Add(1)
	go b.encryptWorker()
	return b
}

// Add ingests one raw frame. syncTimestamp is the start stamp of the public
// file being written at the same time; when empty the frame time is used.
func (b *Buffer) Add(frame model.Frame, detections []model.DetectionBox, ts time.Time, syncTimestamp string) error {
	if b.closed {
		return ErrClosed
	}

	jpeg, err := b.encoder.EncodeJPEG(frame, b.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("failed to encode evidence frame: %w", err)
	}

	e := entry{
		record: Record{
			JPEG:       jpeg,
			Detections: append([]model.DetectionBox(nil), detections...),
			Timestamp:  float64(ts.UnixNano()) / 1e9,
		},
		at: ts,
	}

	if b.cfg.DetectionOnly {
		if len(detections) == 0 {
			b.pushPreroll(e)
			if len(b.main) == 0 {
				b.dropped.Add(1)
				return nil
			}
		} else if len(b.main) == 0 && len(b.preroll) > 0 {
			b.main = append(b.main, b.preroll...)
			b.preroll = nil
		}
	}

	b.main = append(b.main, e)
	if b.syncTS == "" {
		b.bufferStart = b.main[0].at
		b.syncTS = syncTimestamp
		if b.syncTS == "" {
			b.syncTS = b.bufferStart.Format(timestampLayout)
		}
	}

	if ts.Sub(b.bufferStart) >= b.cfg.Window {
		b.flush(false)
	}
	return nil
}

func (b *Buffer) pushPreroll(e entry) {
	if b.cfg.PrerollFrames == 0 {
		return
	}
	if len(b.preroll) >= b.cfg.PrerollFrames {
		copy(b.preroll, b.preroll[1:])
		b.preroll = b.preroll[:len(b.preroll)-1]
	}
	b.preroll = append(b.preroll, e)
}

// Flush queues the current buffer for sealing.
func (b *Buffer) Flush() {
	b.flush(false)
}

// FlushNow seals the current buffer before returning.
func (b *Buffer) FlushNow() {
	b.flush(true)
}

// Pending is the number of frames in the open event.
func (b *Buffer) Pending() int {
	return len(b.main)
}

// SealedCount is the number of evidence files written.
func (b *Buffer) SealedCount() int64 { return b.sealed.Load() }

// DroppedCount is the number of frames skipped outside of events.
func (b *Buffer) DroppedCount() int64 { return b.dropped.Load() }

// FailedCount is the number of buffers that could not be sealed.
func (b *Buffer) FailedCount() int64 { return b.failed.Load() }

// Close seals whatever is buffered, stops the worker and waits for it.
func (b *Buffer) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.flush(true)
	close(b.done)

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(b.closeTimeout):
		b.logger.Warning("Evidence worker for %s did not stop within %s", b.cfg.Camera, b.closeTimeout)
	}
}

// flush snapshots and resets the buffer, then seals the snapshot either
// inline or on the worker.
func (b *Buffer) flush(blocking bool) {
	if len(b.main) == 0 {
		return
	}

	entries := b.main
	start, syncTS := b.bufferStart, b.syncTS
	b.main = nil
	b.preroll = nil
	b.syncTS = ""
	path := b.nextPath(syncTS)

	records := make([]Record, len(entries))
	detections := 0
	for i, e := range entries {
		records[i] = e.record
		detections += len(e.record.Detections)
	}

	info := SegmentInfo{
		EvidenceID:      uuid.NewString(),
		Camera:          b.cfg.Camera,
		FrameCount:      len(records),
		StartTime:       float64(start.UnixNano()) / 1e9,
		EndTime:         records[len(records)-1].Timestamp,
		TotalDetections: detections,
		JPEGQuality:     b.cfg.JPEGQuality,
		SyncTimestamp:   syncTS,
		Sequence:        b.sequence,
		Format:          SegmentFormat,
	}
	j := job{records: records, info: info, path: path}

	if blocking {
		b.seal(j)
		return
	}

	select {
	case b.queue <- j:
	default:
		b.logger.Warning("Evidence queue full for %s, sealing %s inline", b.cfg.Camera, filepath.Base(path))
		b.seal(j)
	}
}

// nextPath advances the sequence past any file already on disk, so a
// restart within the same second never reuses a sealed file's name.
func (b *Buffer) nextPath(syncTS string) string {
	for {
		b.sequence++
		name := fmt.Sprintf("evidence_%s_%s_%04d%s", b.cfg.Camera, syncTS, b.sequence, FileExt)
		path := filepath.Join(b.cfg.Dir, name)
		if _, err := os.Lstat(path); err != nil {
			return path
		}
	}
}

func (b *Buffer) encryptWorker() {
	defer b.wg.Done()

	for {
		select {
		case j := <-b.queue:
			b.seal(j)
		case <-b.done:
			for {
				select {
				case j := <-b.queue:
					b.seal(j)
				default:
					return
				}
			}
		}
	}
}

// seal serializes and encrypts one job. Errors are logged and reported
// through OnSealFailed so the worker keeps going.
func (b *Buffer) seal(j job) {
	if err := b.sealJob(j); err != nil {
		b.failed.Add(1)
		b.logger.Error("Failed to seal evidence %s: %v", filepath.Base(j.path), err)
		if b.OnSealFailed != nil {
			b.OnSealFailed(j.path, err)
		}
		return
	}

	s := Sealed{Path: j.path, Info: j.info}
	if info, err := os.Stat(j.path); err == nil {
		s.Size = info.Size()
	}
	b.sealed.Add(1)
	b.logger.Info("🔒 Sealed %s (%d frames, %d detections)", filepath.Base(j.path), j.info.FrameCount, j.info.TotalDetections)
	if b.OnSealed != nil {
		b.OnSealed(s)
	}
}

func (b *Buffer) sealJob(j job) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return fmt.Errorf("failed to create evidence directory: %w", err)
	}
	data, err := EncodeSegment(j.records)
	if err != nil {
		return err
	}
	return b.sealer.SealFile(j.path, data, j.info.Metadata())
}
