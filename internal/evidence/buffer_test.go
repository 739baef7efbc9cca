package evidence

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"edgevision/internal/logger"
	"edgevision/internal/model"
	"edgevision/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// markerEncoder "encodes" a frame as its first pixel byte so tests can
// follow frame order through a sealed file.
type markerEncoder struct{}

func (markerEncoder) EncodeJPEG(frame model.Frame, quality int) ([]byte, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	return []byte{frame.Data[0]}, nil
}

// flakySealer fails for paths with the given suffix and delegates the rest.
type flakySealer struct {
	failSuffix string
	next       vault.Sealer
}

func (s *flakySealer) SealFile(path string, plaintext []byte, meta vault.Metadata) error {
	if strings.HasSuffix(path, s.failSuffix) {
		return errors.New("disk full")
	}
	return s.next.SealFile(path, plaintext, meta)
}

var baseTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)

func markedFrame(i int) model.Frame {
	f := model.BlankFrame(2, 2)
	f.Data[0] = byte(i)
	return f
}

func face() []model.DetectionBox {
	return []model.DetectionBox{{X1: 1, Y1: 1, X2: 2, Y2: 2, Confidence: 0.9, Class: model.ClassFace}}
}

type harness struct {
	buf  *Buffer
	sym  *vault.SecureVault
	dir  string
	mu   sync.Mutex
	seen []Sealed
}

func newHarness(t *testing.T, cfg Config, sealer func(*vault.SecureVault) vault.Sealer) *harness {
	t.Helper()
	sym, err := vault.NewSecureVault(filepath.Join(t.TempDir(), "master.key"))
	require.NoError(t, err)

	h := &harness{sym: sym, dir: t.TempDir()}
	cfg.Dir = h.dir
	if cfg.Camera == "" {
		cfg.Camera = "cam0"
	}

	var s vault.Sealer = sym
	if sealer != nil {
		s = sealer(sym)
	}
	h.buf = NewBuffer(cfg, markerEncoder{}, s, logger.Nop())
	h.buf.OnSealed = func(s Sealed) {
		h.mu.Lock()
		h.seen = append(h.seen, s)
		h.mu.Unlock()
	}
	return h
}

// add feeds frames [from, to) at 100ms intervals, with detections where
// hasDetection reports true.
func (h *harness) add(t *testing.T, from, to int, hasDetection func(i int) bool) {
	t.Helper()
	for i := from; i < to; i++ {
		var dets []model.DetectionBox
		if hasDetection(i) {
			dets = face()
		}
		ts := baseTime.Add(time.Duration(i) * 100 * time.Millisecond)
		require.NoError(t, h.buf.Add(markedFrame(i), dets, ts, "20260314_150926"))
	}
}

// segments decrypts every sealed file, ordered by file name.
func (h *harness) segments(t *testing.T) []*Segment {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(h.dir, "*.enc"))
	require.NoError(t, err)
	sort.Strings(paths)

	var out []*Segment
	for _, p := range paths {
		seg, err := OpenFile(p, h.sym, nil)
		require.NoError(t, err)
		out = append(out, seg)
	}
	return out
}

func markers(seg *Segment) []int {
	out := make([]int, len(seg.Records))
	for i, r := range seg.Records {
		out[i] = int(r.JPEG[0])
	}
	return out
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestBuffer_SelectiveRecordingWithPreroll(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour, DetectionOnly: true, PrerollFrames: 30}, nil)

	h.add(t, 0, 101, func(i int) bool { return i >= 50 })
	h.buf.Close()

	segments := h.segments(t)
	require.Len(t, segments, 1)
	assert.Equal(t, (100-50+1)+30, segments[0].Info.FrameCount)
	assert.Equal(t, seq(20, 101), markers(segments[0]))
	assert.Equal(t, 51, segments[0].Info.TotalDetections)
}

func TestBuffer_AllEmptyPersistsNothing(t *testing.T) {
	h := newHarness(t, Config{Window: time.Second, DetectionOnly: true, PrerollFrames: 30}, nil)

	h.add(t, 0, 200, func(int) bool { return false })
	h.buf.Close()

	assert.Empty(t, h.segments(t))
	assert.Equal(t, int64(200), h.buf.DroppedCount())
	assert.Equal(t, int64(0), h.buf.SealedCount())
}

func TestBuffer_IncompletePrerollAtSessionStart(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour, DetectionOnly: true, PrerollFrames: 30}, nil)

	h.add(t, 0, 10, func(i int) bool { return i == 5 })
	h.buf.Close()

	segments := h.segments(t)
	require.Len(t, segments, 1)
	// Frames 0-4 were the whole pre-roll; 6-9 follow the open event.
	assert.Equal(t, seq(0, 10), markers(segments[0]))
}

func TestBuffer_RecordsEverythingWhenNotSelective(t *testing.T) {
	h := newHarness(t, Config{Window: time.Second, DetectionOnly: false}, nil)

	h.add(t, 0, 25, func(int) bool { return false })
	h.buf.Close()

	segments := h.segments(t)
	require.Len(t, segments, 3)
	assert.Equal(t, seq(0, 11), markers(segments[0]))
	assert.Equal(t, seq(11, 22), markers(segments[1]))
	assert.Equal(t, seq(22, 25), markers(segments[2]))
}

func TestBuffer_PrerollClearedOnFlush(t *testing.T) {
	h := newHarness(t, Config{Window: time.Second, DetectionOnly: true, PrerollFrames: 5}, nil)

	// The first event starts with pre-roll 5..9 and rotates at frame 15.
	// Frames from that event must not be spliced into the second one.
	h.add(t, 0, 21, func(i int) bool { return (i >= 10 && i <= 12) || i == 20 })
	h.buf.Close()

	segments := h.segments(t)
	require.Len(t, segments, 2)
	assert.Equal(t, seq(5, 16), markers(segments[0]))
	assert.Equal(t, seq(16, 21), markers(segments[1]))
}

func TestBuffer_FileNameAndMetadata(t *testing.T) {
	h := newHarness(t, Config{Camera: "cam2", Window: time.Hour, DetectionOnly: false, JPEGQuality: 85}, nil)

	h.add(t, 0, 3, func(i int) bool { return i == 1 })
	h.buf.Flush()
	h.add(t, 3, 5, func(int) bool { return false })
	h.buf.Close()

	paths, err := filepath.Glob(filepath.Join(h.dir, "*.enc"))
	require.NoError(t, err)
	sort.Strings(paths)
	require.Len(t, paths, 2)
	assert.Equal(t, "evidence_cam2_20260314_150926_0001.enc", filepath.Base(paths[0]))
	assert.Equal(t, "evidence_cam2_20260314_150926_0002.enc", filepath.Base(paths[1]))

	seg, err := OpenFile(paths[0], h.sym, nil)
	require.NoError(t, err)
	info := seg.Info
	assert.Equal(t, "cam2", info.Camera)
	assert.Equal(t, 3, info.FrameCount)
	assert.Equal(t, 1, info.TotalDetections)
	assert.Equal(t, 85, info.JPEGQuality)
	assert.Equal(t, 1, info.Sequence)
	assert.Equal(t, SegmentFormat, info.Format)
	assert.Len(t, info.EvidenceID, 36)
	assert.InDelta(t, float64(baseTime.UnixNano())/1e9, info.StartTime, 1e-3)
	assert.InDelta(t, info.StartTime+0.2, info.EndTime, 1e-3)
	assert.Equal(t, face(), seg.Records[1].Detections)
}

func TestBuffer_SyncTimestampFallsBackToFrameTime(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour}, nil)

	require.NoError(t, h.buf.Add(markedFrame(1), nil, baseTime, ""))
	h.buf.Close()

	paths, err := filepath.Glob(filepath.Join(h.dir, "*.enc"))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "evidence_cam0_20260314_150926_0001.enc", filepath.Base(paths[0]))
}

func TestBuffer_RestartNeverReusesSealedNames(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour}, nil)
	h.add(t, 0, 2, func(int) bool { return true })
	h.buf.Close()

	first := filepath.Join(h.dir, "evidence_cam0_20260314_150926_0001.enc")
	before, err := os.ReadFile(first)
	require.NoError(t, err)

	// A second process starting in the same second restarts its sequence
	restarted := NewBuffer(Config{Dir: h.dir, Camera: "cam0", Window: time.Hour}, markerEncoder{}, h.sym, logger.Nop())
	for i := 10; i < 12; i++ {
		require.NoError(t, restarted.Add(markedFrame(i), face(), baseTime, "20260314_150926"))
	}
	restarted.Close()

	after, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, before, after, "sealed evidence must never be replaced")

	segments := h.segments(t)
	require.Len(t, segments, 2)
	assert.Equal(t, seq(0, 2), markers(segments[0]))
	assert.Equal(t, seq(10, 12), markers(segments[1]))
	assert.Equal(t, 2, segments[1].Info.Sequence)
}

func TestBuffer_CloseIsBlocking(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour}, nil)

	h.add(t, 0, 5, func(int) bool { return true })
	assert.Equal(t, 5, h.buf.Pending())
	h.buf.Close()

	// No waiting: the final flush completed inside Close.
	assert.Len(t, h.segments(t), 1)
	assert.Len(t, h.seen, 1)
	assert.ErrorIs(t, h.buf.Add(markedFrame(0), nil, baseTime, ""), ErrClosed)
}

func TestBuffer_FlushNowSealsImmediately(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour}, nil)
	defer h.buf.Close()

	h.add(t, 0, 3, func(int) bool { return true })
	h.buf.FlushNow()

	assert.Equal(t, 0, h.buf.Pending())
	assert.Len(t, h.segments(t), 1)
}

func TestBuffer_WorkerContinuesAfterSealFailure(t *testing.T) {
	var failedPath string
	h := newHarness(t, Config{Window: time.Hour}, func(v *vault.SecureVault) vault.Sealer {
		return &flakySealer{failSuffix: "_0001.enc", next: v}
	})
	h.buf.OnSealFailed = func(path string, err error) { failedPath = path }

	h.add(t, 0, 2, func(int) bool { return true })
	h.buf.Flush()
	h.add(t, 2, 4, func(int) bool { return true })
	h.buf.Close()

	assert.Equal(t, int64(1), h.buf.FailedCount())
	assert.Equal(t, int64(1), h.buf.SealedCount())
	assert.Contains(t, failedPath, "_0001.enc")

	segments := h.segments(t)
	require.Len(t, segments, 1)
	assert.Equal(t, []int{2, 3}, markers(segments[0]))
}

func TestBuffer_HybridSealer(t *testing.T) {
	priv, err := vault.GenerateRSAKeyPair(vault.RSAKeyBits)
	require.NoError(t, err)
	enc, err := vault.NewHybridVault(&priv.PublicKey, nil)
	require.NoError(t, err)
	dec, err := vault.NewHybridVault(nil, priv)
	require.NoError(t, err)

	dir := t.TempDir()
	buf := NewBuffer(Config{Dir: dir, Camera: "cam0", Window: time.Hour}, markerEncoder{}, enc, logger.Nop())
	require.NoError(t, buf.Add(markedFrame(7), face(), baseTime, "20260314_150926"))
	buf.Close()

	path := filepath.Join(dir, "evidence_cam0_20260314_150926_0001.enc")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, vault.IsHybrid(data))

	seg, err := OpenFile(path, nil, dec)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, markers(seg))
}

func TestBuffer_TamperedFileSurfacesError(t *testing.T) {
	h := newHarness(t, Config{Window: time.Hour}, nil)
	h.add(t, 0, 2, func(int) bool { return true })
	h.buf.Close()

	path := filepath.Join(h.dir, "evidence_cam0_20260314_150926_0001.enc")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = OpenFile(path, h.sym, nil)
	assert.ErrorIs(t, err, vault.ErrDecryption)
}
