package testutil

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// SequentialIDs generates predictable UUIDs for golden comparisons:
// 00000000-0000-7000-8000-000000000001, ...000002, and so on.
//
// The version and variant bits are those of a UUIDv7, so the values pass
// the same validation as generated ones.
type SequentialIDs struct {
	seq *Sequence
}

// NewSequentialIDs creates a generator whose first id ends in 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{seq: NewSequence()}
}

// New returns the next id. Its signature matches uuid.NewV7 so it can be
// injected wherever ids are generated.
func (g *SequentialIDs) New() (uuid.UUID, error) {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], uint64(g.seq.Next()))
	id[6] = 0x70
	id[8] = (id[8] & 0x3f) | 0x80
	return id, nil
}
