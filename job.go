package databank

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// JobKind names the tier a job moves its item to.
type JobKind uint8

const (
	JobLoad      JobKind = iota // → InMemory
	JobSerialize                // → InHotStorage
	JobUnload                   // → InSource
)

func (k JobKind) String() string {
	switch k {
	case JobLoad:
		return "load"
	case JobSerialize:
		return "serialize"
	case JobUnload:
		return "unload"
	default:
		return fmt.Sprintf("job(%d)", uint8(k))
	}
}

func (k JobKind) target() Tier {
	switch k {
	case JobLoad:
		return InMemory
	case JobSerialize:
		return InHotStorage
	default:
		return InSource
	}
}

// slot identifies queued work for duplicate collapsing.
type slot struct {
	key        string
	kind       JobKind
	demoteOnly bool
}

// job is one tier move. It names its item by key and registration epoch and
// re-resolves it when run; a removed or re-registered key turns the job into
// a no-op.
type job[V Data] struct {
	id    uuid.UUID
	kind  JobKind
	key   string
	epoch uint64
	// demoteOnly makes a serialize job skip items already at or below hot
	// storage; set by Unload.
	demoteOnly bool

	once sync.Once
	done chan struct{}

	// Set by the load job before done closes.
	err    error
	val    V
	loaded bool
}

func newJob[V Data](kind JobKind, key string, epoch uint64) *job[V] {
	return &job[V]{
		id:    uuid.New(),
		kind:  kind,
		key:   key,
		epoch: epoch,
		done:  make(chan struct{}),
	}
}

func (j *job[V]) slot() slot { return slot{key: j.key, kind: j.kind, demoteOnly: j.demoteOnly} }

// finish records err and releases waiters. Safe to call more than once;
// only the first call counts.
func (j *job[V]) finish(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

func (j *job[V]) fields() Fields {
	return Fields{"key": j.key, "job": j.kind.String(), "job_id": j.id.String()}
}
