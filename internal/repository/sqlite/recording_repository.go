package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"edgevision/internal/model"
)

// RecordingRepository implements repository.RecordingRepository for SQLite.
type RecordingRepository struct {
	db *DB
}

// NewRecordingRepository creates a new SQLite recording repository.
func NewRecordingRepository(db *DB) *RecordingRepository {
	return &RecordingRepository{db: db}
}

// Insert adds a recording and its detected classes.
func (r *RecordingRepository) Insert(rec *model.Recording) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO recordings (kind, camera, filename, filepath, start_time, frame_count, detections, filesize)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Kind, rec.Camera, rec.Filename, rec.FilePath, rec.StartTime.UTC(), rec.FrameCount, rec.Detections, rec.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert recording: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get recording id: %w", err)
	}

	for _, class := range rec.Classes {
		if _, err := tx.Exec(`INSERT INTO recording_classes (recording_id, class) VALUES (?, ?)`, id, class); err != nil {
			return 0, fmt.Errorf("failed to insert recording class: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit recording: %w", err)
	}
	return id, nil
}

const selectRecording = `
	SELECT id, kind, camera, filename, filepath, start_time, frame_count, detections, filesize, created_at
	FROM recordings`

// GetByID retrieves a recording by its ID.
func (r *RecordingRepository) GetByID(id int64) (*model.Recording, error) {
	return r.getOne(selectRecording+` WHERE id = ?`, id)
}

// GetByPath retrieves a recording by its file path.
func (r *RecordingRepository) GetByPath(path string) (*model.Recording, error) {
	return r.getOne(selectRecording+` WHERE filepath = ?`, path)
}

func (r *RecordingRepository) getOne(query string, arg interface{}) (*model.Recording, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rec, err := scanRecording(r.db.Conn().QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	rec.Classes, err = r.classes(rec.ID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List retrieves recordings matching filter, newest first.
func (r *RecordingRepository) List(filter *model.RecordingFilter) ([]model.Recording, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := selectRecording + where + ` ORDER BY start_time DESC, id DESC`
	if filter != nil && filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	var recordings []model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, *rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}
	// The single connection must be free before the class lookups.
	rows.Close()

	for i := range recordings {
		classes, err := r.classes(recordings[i].ID)
		if err != nil {
			return nil, err
		}
		recordings[i].Classes = classes
	}
	return recordings, nil
}

// Count returns the number of recordings matching filter, ignoring paging.
func (r *RecordingRepository) Count(filter *model.RecordingFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM recordings`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recordings: %w", err)
	}
	return count, nil
}

// TotalSize sums the indexed file sizes of one kind, or of all kinds when
// kind is empty.
func (r *RecordingRepository) TotalSize(kind string) (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT COALESCE(SUM(filesize), 0) FROM recordings`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}

	var total int64
	if err := r.db.Conn().QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum recording sizes: %w", err)
	}
	return total, nil
}

// DeleteByPath removes a recording and its classes. Unknown paths are not
// an error.
func (r *RecordingRepository) DeleteByPath(path string) error {
	r.db.Lock()
	defer r.db.Unlock()

	var id int64
	err := r.db.Conn().QueryRow(`SELECT id FROM recordings WHERE filepath = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get recording id: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM recording_classes WHERE recording_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete recording classes: %w", err)
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	return nil
}

func (r *RecordingRepository) classes(id int64) ([]string, error) {
	rows, err := r.db.Conn().Query(`SELECT class FROM recording_classes WHERE recording_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get recording classes: %w", err)
	}
	defer rows.Close()

	var classes []string
	for rows.Next() {
		var class string
		if err := rows.Scan(&class); err != nil {
			return nil, err
		}
		classes = append(classes, class)
	}
	return classes, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row scanner) (*model.Recording, error) {
	var rec model.Recording
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Camera, &rec.Filename, &rec.FilePath,
		&rec.StartTime, &rec.FrameCount, &rec.Detections, &rec.FileSize, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func buildWhere(filter *model.RecordingFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conds []string
	var args []interface{}

	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Camera != "" {
		conds = append(conds, "camera = ?")
		args = append(args, filter.Camera)
	}
	if filter.Class != "" {
		conds = append(conds, "id IN (SELECT recording_id FROM recording_classes WHERE class = ?)")
		args = append(args, filter.Class)
	}
	if !filter.After.IsZero() {
		conds = append(conds, "start_time >= ?")
		args = append(args, filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		conds = append(conds, "start_time <= ?")
		args = append(args, filter.Before.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
