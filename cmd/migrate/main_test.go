package main

import (
	"os"
	"path/filepath"
	"testing"

	"edgevision/internal/evidence"
	"edgevision/internal/model"
	"edgevision/internal/repository/sqlite"
	"edgevision/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateDirIndexesPublicAndEvidence(t *testing.T) {
	dir := t.TempDir()
	publicDir := filepath.Join(dir, "public")
	evidenceDir := filepath.Join(dir, "evidence")
	require.NoError(t, os.MkdirAll(publicDir, 0755))
	require.NoError(t, os.MkdirAll(evidenceDir, 0700))

	video := filepath.Join(publicDir, "cam0_20260301_080000.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(publicDir, "cam0_20260301_080000.json"),
		[]byte(`{"filename":"cam0_20260301_080000.mp4","fps":30,"total_frames":90,"detections":[{"f":1,"c":["person"]},{"f":2,"c":["face","person"]}]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(publicDir, "garbage.mp4"), []byte("x"), 0644))

	v, err := vault.NewSecureVault(filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	info := evidence.SegmentInfo{EvidenceID: "ev", Camera: "cam0", FrameCount: 4, StartTime: 1772352000, TotalDetections: 2}
	sealed := filepath.Join(evidenceDir, "evidence_cam0_20260301_080000_0001.enc")
	require.NoError(t, v.SealFile(sealed, []byte("payload"), info.Metadata()))

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := sqlite.NewRecordingRepository(db)

	m, err := migrateDir(repo, publicDir, publicRecording)
	require.NoError(t, err)
	assert.Equal(t, 1, m.inserted)
	assert.Equal(t, 1, m.skipped, "garbage.mp4 has no timestamp")

	rec, err := repo.GetByPath(video)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "cam0", rec.Camera)
	assert.Equal(t, 90, rec.FrameCount)
	assert.Equal(t, 2, rec.Detections)
	assert.Equal(t, []string{"face", "person"}, rec.Classes)

	m, err = migrateDir(repo, evidenceDir, evidenceRecording)
	require.NoError(t, err)
	assert.Equal(t, 1, m.inserted)

	rec, err = repo.GetByPath(sealed)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.KindEvidence, rec.Kind)
	assert.Equal(t, 4, rec.FrameCount)

	m, err = migrateDir(repo, publicDir, publicRecording)
	require.NoError(t, err)
	assert.Equal(t, 0, m.inserted)
	assert.Equal(t, 1, m.existing)
}

func TestMigrateDirMissing(t *testing.T) {
	m, err := migrateDir(nil, filepath.Join(t.TempDir(), "nope"), publicRecording)
	require.NoError(t, err)
	assert.Equal(t, migration{}, m)
}
