package sqlite

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// idEntropy is process-global; ULID generation only needs monotonic-enough
// entropy within a process, not cryptographic strength.
var idEntropy = rand.New(rand.NewSource(time.Now().UnixNano()))

// newULID returns a new lexicographically sortable ID, used for
// time-ordered rows (memory items, config versions).
func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}
