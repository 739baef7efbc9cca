package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"edgevision/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *RecordingRepository {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecordingRepository(db)
}

var start = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func recording(kind, camera, name string, offset time.Duration, size int64, classes ...string) *model.Recording {
	return &model.Recording{
		Kind:       kind,
		Camera:     camera,
		Filename:   name,
		FilePath:   "/recordings/" + kind + "/" + name,
		StartTime:  start.Add(offset),
		FrameCount: 300,
		Detections: len(classes),
		FileSize:   size,
		Classes:    classes,
	}
}

func TestRecordingRepository_InsertAndGet(t *testing.T) {
	repo := setupTestDB(t)

	rec := recording(model.KindPublic, "cam0", "cam0_20260401_080000.mp4", 0, 1024, model.ClassFace, model.ClassPerson)
	id, err := repo.Insert(rec)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.GetByPath(rec.FilePath)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "cam0", got.Camera)
	assert.Equal(t, model.KindPublic, got.Kind)
	assert.True(t, start.Equal(got.StartTime))
	assert.Equal(t, int64(1024), got.FileSize)
	assert.Equal(t, []string{model.ClassFace, model.ClassPerson}, got.Classes)
	assert.False(t, got.CreatedAt.IsZero())

	byID, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, got.FilePath, byID.FilePath)

	missing, err := repo.GetByPath("/nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordingRepository_DuplicatePathRejected(t *testing.T) {
	repo := setupTestDB(t)
	rec := recording(model.KindEvidence, "cam0", "evidence_cam0_x_0001.enc", 0, 10)

	_, err := repo.Insert(rec)
	require.NoError(t, err)
	_, err = repo.Insert(rec)
	assert.Error(t, err)
}

func TestRecordingRepository_ListFilters(t *testing.T) {
	repo := setupTestDB(t)

	fixtures := []*model.Recording{
		recording(model.KindPublic, "cam0", "a.mp4", 0, 100, model.ClassFace),
		recording(model.KindPublic, "cam1", "b.mp4", time.Hour, 200),
		recording(model.KindEvidence, "cam0", "c.enc", 2*time.Hour, 300, model.ClassPerson),
		recording(model.KindEvidence, "cam1", "d.enc", 3*time.Hour, 400, model.ClassFace),
	}
	for _, f := range fixtures {
		_, err := repo.Insert(f)
		require.NoError(t, err)
	}

	names := func(recs []model.Recording) []string {
		var out []string
		for _, r := range recs {
			out = append(out, r.Filename)
		}
		return out
	}

	tests := []struct {
		name   string
		filter *model.RecordingFilter
		want   []string
	}{
		{"all newest first", nil, []string{"d.enc", "c.enc", "b.mp4", "a.mp4"}},
		{"by kind", &model.RecordingFilter{Kind: model.KindEvidence}, []string{"d.enc", "c.enc"}},
		{"by camera", &model.RecordingFilter{Camera: "cam0"}, []string{"c.enc", "a.mp4"}},
		{"by class", &model.RecordingFilter{Class: model.ClassFace}, []string{"d.enc", "a.mp4"}},
		{"time range", &model.RecordingFilter{After: start.Add(30 * time.Minute), Before: start.Add(2 * time.Hour)}, []string{"c.enc", "b.mp4"}},
		{"paging", &model.RecordingFilter{Limit: 2, Offset: 1}, []string{"c.enc", "b.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := repo.List(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(recs))
		})
	}

	count, err := repo.Count(&model.RecordingFilter{Camera: "cam1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordingRepository_TotalSizeAndDelete(t *testing.T) {
	repo := setupTestDB(t)

	pub := recording(model.KindPublic, "cam0", "a.mp4", 0, 100, model.ClassFace)
	ev := recording(model.KindEvidence, "cam0", "a.enc", 0, 250)
	_, err := repo.Insert(pub)
	require.NoError(t, err)
	_, err = repo.Insert(ev)
	require.NoError(t, err)

	total, err := repo.TotalSize("")
	require.NoError(t, err)
	assert.Equal(t, int64(350), total)

	evidence, err := repo.TotalSize(model.KindEvidence)
	require.NoError(t, err)
	assert.Equal(t, int64(250), evidence)

	require.NoError(t, repo.DeleteByPath(pub.FilePath))
	require.NoError(t, repo.DeleteByPath("/not/indexed"))

	got, err := repo.GetByPath(pub.FilePath)
	require.NoError(t, err)
	assert.Nil(t, got)

	total, err = repo.TotalSize("")
	require.NoError(t, err)
	assert.Equal(t, int64(250), total)

	var orphans int
	require.NoError(t, repo.db.Conn().QueryRow(`SELECT COUNT(*) FROM recording_classes`).Scan(&orphans))
	assert.Zero(t, orphans)
}
