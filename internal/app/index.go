package app

import (
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"edgevision/internal/audit"
	"edgevision/internal/evidence"
	"edgevision/internal/model"
	"edgevision/internal/recorder"
)

// indexPublic records a finished public video in the recordings index.
func (a *App) indexPublic(seg recorder.Segment) {
	rec := publicRecording(seg)
	if _, err := a.recordings.Insert(rec); err != nil {
		a.logger.Error("Failed to index recording %s: %v", rec.Filename, err)
		return
	}
	a.logger.Info("🎞️ Recording %s indexed (%d frames, %d with detections)", rec.Filename, rec.FrameCount, rec.Detections)
}

// indexEvidence records a sealed evidence file and writes the custody entry.
func (a *App) indexEvidence(s evidence.Sealed) {
	rec := evidenceRecording(s)
	if _, err := a.recordings.Insert(rec); err != nil {
		a.logger.Error("Failed to index evidence %s: %v", rec.Filename, err)
	}
	a.audit.Info(audit.EventEvidenceSealed, "evidence sealed", map[string]string{
		"camera":      s.Info.Camera,
		"file":        rec.Filename,
		"evidence_id": s.Info.EvidenceID,
		"frames":      strconv.Itoa(s.Info.FrameCount),
		"detections":  strconv.Itoa(s.Info.TotalDetections),
		"sync":        s.Info.SyncTimestamp,
	})
}

// forgetRecording drops a file removed by retention from the index.
func (a *App) forgetRecording(path string) {
	if err := a.recordings.DeleteByPath(path); err != nil {
		a.logger.Error("Failed to unindex %s: %v", path, err)
	}
	a.audit.Info(audit.EventRetentionDelete, "file removed by retention", map[string]string{
		"file": filepath.Base(path),
	})
}

func publicRecording(seg recorder.Segment) *model.Recording {
	seen := make(map[string]bool)
	var classes []string
	for _, ev := range seg.Events {
		for _, c := range ev.Classes {
			if !seen[c] {
				seen[c] = true
				classes = append(classes, c)
			}
		}
	}
	sort.Strings(classes)

	return &model.Recording{
		Kind:       model.KindPublic,
		Camera:     seg.Camera,
		Filename:   filepath.Base(seg.Path),
		FilePath:   seg.Path,
		StartTime:  seg.StartTime,
		FrameCount: seg.FrameCount,
		Detections: len(seg.Events),
		FileSize:   seg.FileSize,
		Classes:    classes,
	}
}

func evidenceRecording(s evidence.Sealed) *model.Recording {
	return &model.Recording{
		Kind:       model.KindEvidence,
		Camera:     s.Info.Camera,
		Filename:   filepath.Base(s.Path),
		FilePath:   s.Path,
		StartTime:  unixTime(s.Info.StartTime),
		FrameCount: s.Info.FrameCount,
		Detections: s.Info.TotalDetections,
		FileSize:   s.Size,
	}
}

func unixTime(seconds float64) time.Time {
	sec := int64(seconds)
	return time.Unix(sec, int64((seconds-float64(sec))*1e9))
}
