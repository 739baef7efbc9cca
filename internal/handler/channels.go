package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"edgevision/internal/model"
)

// ChannelSystem is the part of the running channel system the HTTP layer
// reads.
type ChannelSystem interface {
	Snapshots() []model.ChannelSnapshot
	Rotate(id int) bool
	RotateAll()
}

// ChannelsHandler returns the status of every channel as JSON.
func ChannelsHandler(system ChannelSystem) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, system.Snapshots())
	}
}

// RotateHandler closes the current public file of one channel (?id=N) or of
// all channels, so it becomes readable and eligible for retention.
func RotateHandler(system ChannelSystem) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		raw := r.URL.Query().Get("id")
		if raw == "" {
			system.RotateAll()
			w.WriteHeader(http.StatusAccepted)
			return
		}

		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid channel id", http.StatusBadRequest)
			return
		}
		if !system.Rotate(id) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
