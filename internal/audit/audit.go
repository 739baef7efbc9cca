// Package audit keeps a chain-of-custody trail of evidence events as
// RFC 5424 syslog lines.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Event identifiers, used as the RFC 5424 MSGID.
const (
	EventSystemStart      = "system_start"
	EventSystemStop       = "system_stop"
	EventCameraOnline     = "camera_online"
	EventCameraOffline    = "camera_offline"
	EventEvidenceSealed   = "evidence_sealed"
	EventSealFailed       = "evidence_seal_failed"
	EventEvidenceOpened   = "evidence_opened"
	EventIntegrityFailure = "integrity_failure"
	EventRetentionDelete  = "retention_delete"
	EventKeyGenerated     = "key_generated"
)

const structuredDataID = "meta@1"

// Trail appends audit records to a writer.
type Trail struct {
	appName   string
	hostname  string
	processID string
	facility  rfc5424.Priority

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// Open appends to the audit file at path, creating it if needed.
func Open(path, appName string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	t := New(f, appName)
	t.closer = f
	return t, nil
}

// New writes audit records to w.
func New(w io.Writer, appName string) *Trail {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Trail{
		appName:   appName,
		hostname:  hostname,
		processID: strconv.Itoa(os.Getpid()),
		facility:  rfc5424.User,
		w:         w,
		now:       time.Now,
	}
}

// Discard returns a Trail that drops every record.
func Discard() *Trail {
	return New(io.Discard, "edgevision")
}

// Info records an informational event.
func (t *Trail) Info(event, message string, meta map[string]string) error {
	return t.record(rfc5424.Info, event, message, meta)
}

// Warn records a warning event.
func (t *Trail) Warn(event, message string, meta map[string]string) error {
	return t.record(rfc5424.Warning, event, message, meta)
}

// Error records an error event.
func (t *Trail) Error(event, message string, meta map[string]string) error {
	return t.record(rfc5424.Error, event, message, meta)
}

func (t *Trail) record(severity rfc5424.Priority, event, message string, meta map[string]string) error {
	if t == nil {
		return nil
	}

	msg := &rfc5424.Message{
		Priority:  t.facility | severity,
		Timestamp: t.now().UTC(),
		Hostname:  t.hostname,
		AppName:   t.appName,
		ProcessID: t.processID,
		MessageID: event,
		Message:   []byte(message),
	}

	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		msg.AddDatum(structuredDataID, key, meta[key])
	}

	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (t *Trail) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
