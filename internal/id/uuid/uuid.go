// Package uuid generates and parses worker run identifiers.
package uuid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidRunID reports an identifier that is not a run ID issued by
// Generator.
var ErrInvalidRunID = errors.New("invalid run id")

// Generator issues UUID v7 run IDs, which sort by the time a worker started.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// NewRawID returns a fresh run ID.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// NewID is NewRawID in its canonical string form.
func (g Generator) NewID() (string, error) {
	id, err := g.NewRawID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ParseRunID accepts the canonical form of a v7 ID, surrounding space
// ignored. Anything else, including the nil UUID, is ErrInvalidRunID.
func ParseRunID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidRunID, raw)
	}
	if id.Version() != 7 {
		return uuid.Nil, fmt.Errorf("%w: %q is version %d", ErrInvalidRunID, raw, id.Version())
	}
	return id, nil
}
