// Package snapshot persists the audited subject collection of a run.
//
// A snapshot is the only persisted state of the engine: it carries enough
// to rebuild every aggregation table without re-running any rule.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"audita/internal/subject"
)

// Version is the current snapshot format version.
const Version = 1

// ErrUnsupportedVersion is returned when decoding a snapshot written by an
// incompatible format version.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot is the serialized form of one run.
type Snapshot struct {
	Version   int                `json:"version"`
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Subjects  []*subject.Subject `json:"subjects"`
}

// New wraps the subjects of a run. The creation time is kept at millisecond
// precision, the finest every store preserves.
func New(runID string, createdAt time.Time, subjects []*subject.Subject) *Snapshot {
	if subjects == nil {
		subjects = []*subject.Subject{}
	}
	return &Snapshot{
		Version:   Version,
		RunID:     runID,
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
		Subjects:  subjects,
	}
}

// Keys returns the subject keys in collection order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Subjects))
	for _, sub := range s.Subjects {
		keys = append(keys, sub.Key)
	}
	return keys
}

// Subject finds a subject by key.
func (s *Snapshot) Subject(key string) (*subject.Subject, bool) {
	for _, sub := range s.Subjects {
		if sub.Key == key {
			return sub, true
		}
	}
	return nil, false
}

// Marshal encodes a snapshot as indented JSON. Strings that are not valid
// UTF-8 fail with ErrInvalidText rather than being rewritten.
func Marshal(s *Snapshot) ([]byte, error) {
	if err := checkText(reflect.ValueOf(s), "snapshot"); err != nil {
		return nil, fmt.Errorf("marshal snapshot %s: %w", s.RunID, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s: %w", s.RunID, err)
	}
	return data, nil
}

// Unmarshal decodes a snapshot and checks its format version.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	if s.Subjects == nil {
		s.Subjects = []*subject.Subject{}
	}
	return &s, nil
}

// Info describes a stored snapshot without its subjects.
type Info struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists snapshots by run id. Load returns sentinel.ErrNotFound
// (wrapped) when the run is unknown.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Load(ctx context.Context, runID string) (*Snapshot, error)
	List(ctx context.Context) ([]Info, error)
}
