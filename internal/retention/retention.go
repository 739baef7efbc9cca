// Package retention keeps the recording trees under a storage budget by
// evicting the oldest files first.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"edgevision/internal/logger"
)

// TargetRatio is the share of the budget that eviction aims for once the
// budget is exceeded.
const TargetRatio = 0.9

const (
	tempSuffix = ".tmp"
	sidecarExt = ".json"
)

// removeFile is swapped in tests.
var removeFile = os.Remove

// Result summarizes one enforcement pass.
type Result struct {
	TotalBytes   int64
	DeletedFiles int
	DeletedBytes int64
	// Removed lists every evicted recording. A sidecar removed with its
	// video is counted in DeletedFiles but not listed.
	Removed []string
	Failed  []Failure
}

// Failure is a file that could not be deleted.
type Failure struct {
	Path string
	Err  error
}

type file struct {
	path       string
	size       int64
	modTime    time.Time
	companions []file
}

// Enforce sums every file under dirs and, when the total exceeds maxBytes,
// deletes recordings oldest-modified first until usage is at most 90% of
// maxBytes. A sidecar .json is deleted together with the video it describes.
// Protected paths and in-flight temp files count toward the total but are
// never deleted. Files that cannot be deleted are reported in Failed. Empty
// dirs are skipped; a missing dir counts as empty.
func Enforce(maxBytes int64, protected []string, dirs ...string) (Result, error) {
	var res Result

	keep := make(map[string]bool, len(protected))
	for _, p := range protected {
		keep[filepath.Clean(p)] = true
	}

	var found []file
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				// Removed between listing and stat.
				return nil
			}

			res.TotalBytes += info.Size()
			if keep[filepath.Clean(path)] || strings.HasSuffix(path, tempSuffix) {
				return nil
			}
			found = append(found, file{path: path, size: info.Size(), modTime: info.ModTime()})
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	if maxBytes <= 0 || res.TotalBytes <= maxBytes {
		return res, nil
	}

	candidates := attachSidecars(found, keep)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].path < candidates[j].path
		}
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	target := int64(float64(maxBytes) * TargetRatio)
	for _, f := range candidates {
		if res.TotalBytes <= target {
			break
		}
		if err := remove(f.path); err != nil {
			res.Failed = append(res.Failed, Failure{Path: f.path, Err: err})
			continue
		}
		freed := f.size
		res.DeletedFiles++
		for _, c := range f.companions {
			if err := remove(c.path); err != nil {
				res.Failed = append(res.Failed, Failure{Path: c.path, Err: err})
				continue
			}
			freed += c.size
			res.DeletedFiles++
		}
		res.TotalBytes -= freed
		res.DeletedBytes += freed
		res.Removed = append(res.Removed, f.path)
	}
	return res, nil
}

func remove(path string) error {
	if err := removeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// attachSidecars folds every sidecar into the recording with the same name
// stem. A sidecar whose recording is protected stays; one without any
// recording is evicted on its own.
func attachSidecars(found []file, keep map[string]bool) []file {
	held := make(map[string]bool, len(keep))
	for p := range keep {
		held[stem(p)] = true
	}

	owners := make(map[string]int)
	var out, sidecars []file
	for _, f := range found {
		if filepath.Ext(f.path) == sidecarExt {
			sidecars = append(sidecars, f)
			continue
		}
		owners[stem(f.path)] = len(out)
		out = append(out, f)
	}

	for _, sc := range sidecars {
		key := stem(sc.path)
		if i, ok := owners[key]; ok {
			out[i].companions = append(out[i].companions, sc)
			continue
		}
		if held[key] {
			continue
		}
		out = append(out, sc)
	}
	return out
}

func stem(path string) string {
	path = filepath.Clean(path)
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Manager runs Enforce on a timer.
type Manager struct {
	PublicDir     string
	EvidenceDir   string
	MaxBytes      int64
	EvictEvidence bool

	// Protected lists files that must survive, typically the files open
	// for writing.
	Protected func() []string
	// OnRemoved is called for every deleted file.
	OnRemoved func(path string)

	Logger *logger.Logger
}

// Enforce runs one pass. When EvictEvidence is false evidence files still
// count toward the budget but only public files are deleted.
func (m *Manager) Enforce() (Result, error) {
	var protected []string
	if m.Protected != nil {
		protected = m.Protected()
	}

	dirs := []string{m.PublicDir}
	if m.EvidenceDir != "" && filepath.Clean(m.EvidenceDir) != filepath.Clean(m.PublicDir) {
		if m.EvictEvidence {
			dirs = append(dirs, m.EvidenceDir)
		} else {
			held, err := listFiles(m.EvidenceDir)
			if err != nil {
				return Result{}, err
			}
			protected = append(protected, held...)
			dirs = append(dirs, m.EvidenceDir)
		}
	}

	res, err := Enforce(m.MaxBytes, protected, dirs...)
	if err != nil {
		return res, err
	}

	for _, p := range res.Removed {
		if m.OnRemoved != nil {
			m.OnRemoved(p)
		}
	}
	for _, f := range res.Failed {
		if m.Logger != nil {
			m.Logger.Warning("Retention could not delete %s: %v", f.Path, f.Err)
		}
	}
	if res.DeletedFiles > 0 && m.Logger != nil {
		m.Logger.Info("🧹 Retention removed %d file(s), %d bytes; usage now %d/%d bytes",
			res.DeletedFiles, res.DeletedBytes, res.TotalBytes, m.MaxBytes)
	}
	if res.TotalBytes > m.MaxBytes && m.Logger != nil {
		m.Logger.Warning("Storage still over budget after retention: %d/%d bytes", res.TotalBytes, m.MaxBytes)
	}
	return res, nil
}

// Run enforces the budget every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Enforce(); err != nil && m.Logger != nil {
				m.Logger.Error("Retention pass failed: %v", err)
			}
		}
	}
}

func listFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
