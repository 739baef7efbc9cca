package repository

import "edgevision/internal/model"

// RecordingRepository indexes finished public videos and sealed evidence
// files.
type RecordingRepository interface {
	// Create operations
	Insert(rec *model.Recording) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Recording, error)
	GetByPath(path string) (*model.Recording, error)
	List(filter *model.RecordingFilter) ([]model.Recording, error)
	Count(filter *model.RecordingFilter) (int, error)
	TotalSize(kind string) (int64, error)

	// Delete operations
	DeleteByPath(path string) error
}
