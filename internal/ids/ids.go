// Package ids provides identifier generators.
//
// Ids are produced by an explicit collaborator instead of package-level
// counters so that tests can pin them and concurrent runs never share state.
package ids

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator hands out identifiers.
type Generator interface {
	Next() string
}

// Sequence yields PREFIX01, PREFIX02, ... It is safe for concurrent use.
type Sequence struct {
	prefix string

	mu   sync.Mutex
	next int
}

// NewSequence starts a sequence at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix, next: 1}
}

func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("%s%02d", s.prefix, s.next)
	s.next++
	return id
}

// UUID yields random version 4 UUID strings.
type UUID struct{}

func (UUID) Next() string {
	return uuid.NewString()
}

// ErrInvalidRunID is returned when a run id is malformed.
var ErrInvalidRunID = errors.New("invalid run id")

// RunID identifies one batch run and its snapshot.
type RunID uuid.UUID

// NewRunID returns a fresh run id.
func NewRunID() RunID {
	return RunID(uuid.New())
}

// ParseRunID validates a run id at trust boundaries. The nil UUID is rejected.
func ParseRunID(s string) (RunID, error) {
	if s == "" {
		return RunID{}, fmt.Errorf("%w: empty", ErrInvalidRunID)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, fmt.Errorf("%w: %s", ErrInvalidRunID, err)
	}
	if parsed == uuid.Nil {
		return RunID{}, fmt.Errorf("%w: nil uuid", ErrInvalidRunID)
	}
	return RunID(parsed), nil
}

func (r RunID) String() string {
	return uuid.UUID(r).String()
}
