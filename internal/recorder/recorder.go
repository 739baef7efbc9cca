// Package recorder writes the anonymized public video of one channel into
// time-rotated container files.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"edgevision/internal/logger"
	"edgevision/internal/model"
)

const (
	// TimestampLayout formats the start time embedded in file names.
	TimestampLayout = "20060102_150405"

	finalizeQueueSize   = 8
	defaultCloseTimeout = 10 * time.Second
	defaultRotateWindow = 5 * time.Minute
	defaultFPS          = 30
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("recorder closed")

// Config describes where and how one channel records.
type Config struct {
	Dir         string
	Prefix      string
	FPS         float64
	MaxDuration time.Duration
	Width       int
	Height      int
	Codecs      []Codec
}

// Segment describes a finished video file.
type Segment struct {
	Camera     string
	Path       string
	Codec      Codec
	StartTime  time.Time
	FrameCount int
	Events     []DetectionEvent
	FileSize   int64
}

// segment is the open-file handle. Once handed to the finalizer the channel
// goroutine keeps no reference to it.
type segment struct {
	Segment
	writer FrameWriter
}

// Recorder owns the open video file of one channel. Write, Rotate-consumption
// and Finalize run on the channel goroutine; a single background goroutine
// closes rotated files and writes their sidecars.
type Recorder struct {
	cfg     Config
	factory WriterFactory
	logger  *logger.Logger

	current     *segment
	forceRotate atomic.Bool
	closed      bool

	mu          sync.Mutex // guards currentPath and syncTS
	currentPath string
	syncTS      string

	queue chan *segment
	done  chan struct{}
	wg    sync.WaitGroup

	// OnFinalized is called from the finalizer goroutine after each file
	// is closed.
	OnFinalized func(Segment)

	now          func() time.Time
	closeTimeout time.Duration
}

// New creates a Recorder and starts its finalizer goroutine.
func New(cfg Config, factory WriterFactory, log *logger.Logger) *Recorder {
	if cfg.FPS <= 0 {
		cfg.FPS = defaultFPS
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultRotateWindow
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs
	}

	r := &Recorder{
		cfg:          cfg,
		factory:      factory,
		logger:       log,
		queue:        make(chan *segment, finalizeQueueSize),
		done:         make(chan struct{}),
		now:          time.Now,
		closeTimeout: defaultCloseTimeout,
	}

	r.wg.Add(1)
	go r.finalizeWorker()
	return r
}

// Write appends frame to the open file, rotating first when the window has
// elapsed or a rotation was requested.
func (r *Recorder) Write(frame model.Frame, detections []model.DetectionBox) error {
	if r.closed {
		return ErrClosed
	}

	force := r.forceRotate.Swap(false)
	if r.current != nil && (force || r.now().Sub(r.current.StartTime) >= r.cfg.MaxDuration) {
		r.handOff()
	}

	if r.current == nil {
		seg, err := r.open()
		if err != nil {
			return err
		}
		r.current = seg
		r.mu.Lock()
		r.currentPath = seg.Path
		r.syncTS = r.syncStamp(seg.Path)
		r.mu.Unlock()
	}

	seg := r.current
	if err := seg.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame to %s: %w", seg.Path, err)
	}
	if len(detections) > 0 {
		seg.Events = append(seg.Events, DetectionEvent{
			Frame:   seg.FrameCount + PreflightFrames,
			Classes: model.DistinctClasses(detections),
		})
	}
	seg.FrameCount++
	return nil
}

// Rotate asks the next Write to start a new file. Safe to call from any
// goroutine.
func (r *Recorder) Rotate() {
	r.forceRotate.Store(true)
}

// Finalize hands the open file to the finalizer without stopping it. The
// next Write opens a new file.
func (r *Recorder) Finalize() {
	r.handOff()
}

// Close finalizes the open file, stops the finalizer and waits for it.
func (r *Recorder) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.handOff()
	close(r.done)

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(r.closeTimeout):
		r.logger.Warning("Finalizer for %s did not stop within %s", r.cfg.Prefix, r.closeTimeout)
	}
}

// CurrentFile is the path of the file open for writing, or "".
func (r *Recorder) CurrentFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPath
}

// SyncTimestamp is the start timestamp of the most recent file, shared with
// evidence file names so both can be correlated. A collision suffix such as
// _1 is kept so two files started in the same second stay distinct.
func (r *Recorder) SyncTimestamp() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncTS
}

// handOff transfers the open file to the finalizer queue. When the queue is
// full the file is finalized inline.
func (r *Recorder) handOff() {
	seg := r.current
	if seg == nil {
		return
	}
	r.current = nil

	r.mu.Lock()
	r.currentPath = ""
	r.mu.Unlock()

	select {
	case r.queue <- seg:
	default:
		r.logger.Warning("Finalize queue full for %s, closing %s inline", r.cfg.Prefix, filepath.Base(seg.Path))
		r.finalize(seg)
	}
}

// open tries each codec in order and keeps the first one that survives a
// blank preflight frame.
func (r *Recorder) open() (*segment, error) {
	if err := os.MkdirAll(r.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	start := r.now()
	base := fmt.Sprintf("%s_%s", r.cfg.Prefix, start.Format(TimestampLayout))
	blank := model.BlankFrame(r.cfg.Width, r.cfg.Height)

	candidates := append(append([]Codec(nil), r.cfg.Codecs...), Uncompressed)
	for _, codec := range candidates {
		path := uniquePath(r.cfg.Dir, base, codec.Ext)

		w, err := r.factory.Open(path, codec, r.cfg.FPS, r.cfg.Width, r.cfg.Height)
		if err != nil || w == nil || !w.IsOpened() {
			r.discard(w, path)
			r.logger.Debug("Codec %s unavailable for %s: %v", codec, r.cfg.Prefix, err)
			continue
		}

		// isOpened alone does not prove the encoder works. The blank frame
		// stays in the file, see PreflightFrames.
		if err := w.Write(blank); err != nil {
			r.discard(w, path)
			r.logger.Debug("Codec %s failed preflight for %s: %v", codec, r.cfg.Prefix, err)
			continue
		}

		if codec == Uncompressed {
			r.logger.Warning("All codecs failed for %s, recording uncompressed", r.cfg.Prefix)
		}
		r.logger.Info("🎬 Recording %s with %s", filepath.Base(path), codec.FourCC)
		return &segment{
			Segment: Segment{
				Camera:    r.cfg.Prefix,
				Path:      path,
				Codec:     codec,
				StartTime: start,
			},
			writer: w,
		}, nil
	}
	return nil, fmt.Errorf("failed to open %s: %w", base, ErrCodec)
}

func (r *Recorder) discard(w FrameWriter, path string) {
	if w != nil {
		w.Close()
	}
	os.Remove(path)
}

func (r *Recorder) finalizeWorker() {
	defer r.wg.Done()

	for {
		select {
		case seg := <-r.queue:
			r.finalize(seg)
		case <-r.done:
			for {
				select {
				case seg := <-r.queue:
					r.finalize(seg)
				default:
					return
				}
			}
		}
	}
}

// finalize releases the writer and writes the sidecar. Failures are logged
// so later files are still processed.
func (r *Recorder) finalize(seg *segment) {
	if err := seg.writer.Close(); err != nil {
		r.logger.Error("Failed to close %s: %v", seg.Path, err)
	}

	if len(seg.Events) > 0 {
		sc := Sidecar{
			Filename:        filepath.Base(seg.Path),
			FPS:             r.cfg.FPS,
			TotalFrames:     seg.FrameCount,
			PreflightFrames: PreflightFrames,
			Detections:      seg.Events,
		}
		if err := writeSidecar(SidecarPath(seg.Path), sc); err != nil {
			r.logger.Error("Failed to write sidecar for %s: %v", seg.Path, err)
		}
	}

	if info, err := os.Stat(seg.Path); err == nil {
		seg.FileSize = info.Size()
	}
	r.logger.Info("Finalized %s (%d frames, %d detection events)", filepath.Base(seg.Path), seg.FrameCount, len(seg.Events))

	if r.OnFinalized != nil {
		r.OnFinalized(seg.Segment)
	}
}

// syncStamp is the part of a file name after the camera prefix, without the
// extension: 20260301_080000 or 20260301_080000_1.
func (r *Recorder) syncStamp(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimPrefix(base, r.cfg.Prefix+"_")
}

// uniquePath returns dir/base+ext, adding _1, _2, ... if that file exists.
func uniquePath(dir, base, ext string) string {
	path := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}
