package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"edgevision/internal/config"
	"edgevision/internal/evidence"
	"edgevision/internal/model"
	"edgevision/internal/recorder"
	"edgevision/internal/repository"
	"edgevision/internal/repository/sqlite"
	"edgevision/internal/vault"
)

var videoExts = map[string]bool{".mp4": true, ".avi": true}

// errSkip marks files that are not recordings at all.
var errSkip = errors.New("not a recording")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	publicDir := flag.String("public", cfg.PublicRecordingsPath, "Directory containing public recordings")
	evidenceDir := flag.String("evidence", cfg.EvidenceRecordingsPath, "Directory containing sealed evidence")
	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	flag.Parse()

	fmt.Printf("Indexing recordings from %s and %s into %s\n", *publicDir, *evidenceDir, *dbPath)

	// Ensure database directory exists
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	repo := sqlite.NewRecordingRepository(db)

	var total migration
	for _, dir := range []struct {
		path  string
		parse func(string) (*model.Recording, error)
	}{
		{*publicDir, publicRecording},
		{*evidenceDir, evidenceRecording},
	} {
		m, err := migrateDir(repo, dir.path, dir.parse)
		if err != nil {
			log.Fatalf("Failed to index %s: %v", dir.path, err)
		}
		total.add(m)
	}

	fmt.Printf("✅ Indexed %d recording(s), %d already present\n", total.inserted, total.existing)
	if total.skipped > 0 {
		fmt.Printf("⚠️  Skipped %d files (invalid format or errors)\n", total.skipped)
	}

	fmt.Printf("\n📊 Database Statistics:\n")
	for _, kind := range []string{model.KindPublic, model.KindEvidence} {
		count, err := repo.Count(&model.RecordingFilter{Kind: kind})
		if err != nil {
			continue
		}
		size, _ := repo.TotalSize(kind)
		fmt.Printf("   %s: %d file(s), %d bytes\n", kind, count, size)
	}
}

type migration struct {
	inserted int
	existing int
	skipped  int
}

func (m *migration) add(o migration) {
	m.inserted += o.inserted
	m.existing += o.existing
	m.skipped += o.skipped
}

// migrateDir indexes every file in dir that parse accepts and that is not
// indexed yet.
func migrateDir(repo repository.RecordingRepository, dir string, parse func(string) (*model.Recording, error)) (migration, error) {
	var m migration

	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, err
	}

	var recordings []*model.Recording
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		path := filepath.Join(dir, file.Name())

		rec, err := parse(path)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", file.Name(), err)
			m.skipped++
			continue
		}

		existing, err := repo.GetByPath(path)
		if err != nil {
			return m, err
		}
		if existing != nil {
			m.existing++
			continue
		}
		recordings = append(recordings, rec)
	}

	sort.Slice(recordings, func(i, j int) bool { return recordings[i].StartTime.Before(recordings[j].StartTime) })
	for _, rec := range recordings {
		if _, err := repo.Insert(rec); err != nil {
			return m, err
		}
		m.inserted++
	}
	return m, nil
}

// publicRecording builds an index entry from a video file name and its
// sidecar, if one was written.
func publicRecording(path string) (*model.Recording, error) {
	if !videoExts[strings.ToLower(filepath.Ext(path))] {
		return nil, errSkip
	}

	camera, start, err := recorder.ParseFilename(path, time.Local)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	rec := &model.Recording{
		Kind:      model.KindPublic,
		Camera:    camera,
		Filename:  filepath.Base(path),
		FilePath:  path,
		StartTime: start,
		FileSize:  info.Size(),
	}

	if sc, err := recorder.ReadSidecar(path); err == nil {
		rec.FrameCount = sc.TotalFrames
		rec.Detections = len(sc.Detections)
		seen := make(map[string]bool)
		for _, ev := range sc.Detections {
			for _, c := range ev.Classes {
				if !seen[c] {
					seen[c] = true
					rec.Classes = append(rec.Classes, c)
				}
			}
		}
		sort.Strings(rec.Classes)
	}
	return rec, nil
}

// evidenceRecording builds an index entry from the cleartext metadata of a
// sealed file. No key is needed.
func evidenceRecording(path string) (*model.Recording, error) {
	if filepath.Ext(path) != evidence.FileExt {
		return nil, errSkip
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, _, err := vault.PeekMetadata(data)
	if err != nil {
		return nil, err
	}
	info := evidence.ParseSegmentInfo(meta)

	sec := int64(info.StartTime)
	return &model.Recording{
		Kind:       model.KindEvidence,
		Camera:     info.Camera,
		Filename:   filepath.Base(path),
		FilePath:   path,
		StartTime:  time.Unix(sec, int64((info.StartTime-float64(sec))*1e9)),
		FrameCount: info.FrameCount,
		Detections: info.TotalDetections,
		FileSize:   int64(len(data)),
	}, nil
}
