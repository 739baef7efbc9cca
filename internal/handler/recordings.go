package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"edgevision/internal/logger"
	"edgevision/internal/model"
	"edgevision/internal/repository"
)

// RecordingsPage is the JSON response of the recordings listing.
type RecordingsPage struct {
	Recordings  []model.Recording `json:"recordings"`
	Total       int               `json:"total"`
	TotalSize   int64             `json:"totalSize"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
	Limit       int               `json:"limit"`
}

// GetRecordingsHandler returns a filtered, paged list of indexed recordings.
// Query parameters: kind, camera, class, dateAfter, dateBefore (2006-01-02),
// page, limit.
func GetRecordingsHandler(repo repository.RecordingRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.RecordingFilter{
			Kind:   q.Get("kind"),
			Camera: q.Get("camera"),
			Class:  q.Get("class"),
			After:  parseDate(q.Get("dateAfter")),
			Before: endOfDay(parseDate(q.Get("dateBefore"))),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		recordings, err := repo.List(filter)
		if err != nil {
			logger.Error("Error querying recordings from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		total, err := repo.Count(filter)
		if err != nil {
			logger.Error("Error counting recordings: %v", err)
			total = len(recordings)
		}

		size, err := repo.TotalSize(filter.Kind)
		if err != nil {
			logger.Error("Error summing recording sizes: %v", err)
		}

		if recordings == nil {
			recordings = []model.Recording{}
		}
		writeJSON(w, http.StatusOK, RecordingsPage{
			Recordings:  recordings,
			Total:       total,
			TotalSize:   size,
			TotalPages:  (total + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// ViewRecordingHandler serves a finished public video by file name. Evidence
// files are never served over HTTP.
func ViewRecordingHandler(publicDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("file")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			http.Error(w, "Invalid file parameter", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(publicDir, name))
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
