package supervisor

import (
	"errors"
	"fmt"

	"github.com/roach88/intake/internal/query"
)

var (
	// ErrDespawned is returned by every call made after Despawn.
	ErrDespawned = errors.New("supervisor: despawned")

	// ErrUnavailable is returned when calling a nil supervisor.
	ErrUnavailable = errors.New("supervisor: unavailable, was it spawned?")

	// ErrInMemorySpawn is returned when spawning workers on an in-memory
	// database; each worker would see its own empty database.
	ErrInMemorySpawn = errors.New("supervisor: cannot spawn workers on an in-memory database")

	// ErrTxDone is returned when using a transaction after its body returned.
	ErrTxDone = errors.New("supervisor: transaction already finished")
)

// ModeError is returned when a read transaction is asked to run a write
// statement.
type ModeError struct {
	Query query.Descriptor
	Mode  query.Mode
}

// Error implements the error interface.
func (e *ModeError) Error() string {
	return fmt.Sprintf("query %q requires mode %s, transaction is %s",
		e.Query.Name, e.Query.Mode, e.Mode)
}
