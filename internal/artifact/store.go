// Package artifact persists the pipeline's named, schema-versioned artifacts.
//
// Every read and write goes through slot validation, so two stages evolved
// independently can never exchange a silently drifted document. Writes are
// atomic: the payload is validated, written to a temporary file in the same
// directory, then renamed over the slot's filename. Concurrent readers
// observe either the previous committed value or the new one, never a
// partial document.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ValidationError reports a missing or schema-invalid artifact. The CLI maps
// it to exit code 2.
type ValidationError struct {
	Slot   Slot
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact %q: %s: %v", e.Slot, e.Reason, e.Err)
	}
	return fmt.Sprintf("artifact %q: %s", e.Slot, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Mirror receives a copy of every committed artifact. Implementations must
// be safe for sequential reuse; failures are logged and never fail a commit.
type Mirror interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// Store provides typed access to the artifacts of one output directory.
type Store struct {
	dir    string
	mirror Mirror
	log    *slog.Logger
}

// NewStore creates (if needed) the output directory and returns a Store for
// it. The directory must be writable; that is probed up front so a bad
// --output-dir fails before any stage runs.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %q: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("output dir %q not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, log: log}, nil
}

// WithMirror returns a copy of the store that also uploads every committed
// artifact to m.
func (s *Store) WithMirror(m Mirror) *Store {
	c := *s
	c.mirror = m
	return &c
}

// Dir returns the store's output directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path a slot is persisted at.
func (s *Store) Path(slot Slot) string {
	schema, ok := SchemaFor(slot)
	if !ok {
		return filepath.Join(s.dir, string(slot))
	}
	return filepath.Join(s.dir, schema.Filename)
}

// Write validates payload against the slot's schema and commits it
// atomically. payload may be a struct (marshalled as indented JSON), a
// []byte, or a string. On validation failure nothing is written.
func (s *Store) Write(ctx context.Context, slot Slot, payload any) (string, error) {
	schema, ok := SchemaFor(slot)
	if !ok {
		return "", &ValidationError{Slot: slot, Reason: "unknown slot"}
	}

	data, contentType, err := serialize(payload)
	if err != nil {
		return "", &ValidationError{Slot: slot, Reason: "serialize payload", Err: err}
	}
	if err := schema.Validate(data); err != nil {
		return "", &ValidationError{Slot: slot, Reason: "payload failed validation", Err: err}
	}

	path := filepath.Join(s.dir, schema.Filename)
	if err := atomicWrite(path, data); err != nil {
		return "", fmt.Errorf("commit artifact %q: %w", slot, err)
	}
	s.log.Debug("artifact committed", "slot", string(slot), "path", path, "bytes", len(data))

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, schema.Filename, data, contentType); err != nil {
			s.log.Warn("artifact mirror upload failed", "slot", string(slot), "error", err)
		}
	}
	return path, nil
}

// Read returns the committed payload for slot, re-validating it against the
// slot's schema. A missing file or a document that fails validation (e.g.
// external tampering, version skew) yields a ValidationError.
func (s *Store) Read(slot Slot) ([]byte, error) {
	schema, ok := SchemaFor(slot)
	if !ok {
		return nil, &ValidationError{Slot: slot, Reason: "unknown slot"}
	}
	path := filepath.Join(s.dir, schema.Filename)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &ValidationError{Slot: slot, Reason: fmt.Sprintf("not found at %s (run the producing stage first)", path)}
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", slot, err)
	}
	if err := schema.Validate(data); err != nil {
		return nil, &ValidationError{Slot: slot, Reason: "stored payload failed validation", Err: err}
	}
	return data, nil
}

// serialize turns a payload into bytes plus a content type for the mirror.
func serialize(payload any) ([]byte, string, error) {
	switch p := payload.(type) {
	case []byte:
		return p, "text/plain; charset=utf-8", nil
	case string:
		return []byte(p), "text/plain; charset=utf-8", nil
	default:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, "", err
		}
		// Trailing newline keeps the files diff-friendly.
		return append(data, '\n'), "application/json", nil
	}
}

// atomicWrite writes data to a temporary file in path's directory, fsyncs,
// and renames it over path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
