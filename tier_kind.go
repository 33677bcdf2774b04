package databank

import "fmt"

// Tier is the storage state an item's payload currently occupies.
type Tier uint8

const (
	InSource Tier = iota
	InHotStorage
	InMemory
)

const numTiers = 3

func (t Tier) String() string {
	switch t {
	case InSource:
		return "source"
	case InHotStorage:
		return "hot_storage"
	case InMemory:
		return "memory"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

func (t Tier) valid() bool { return t < numTiers }

// Importance selects where and when a job runs.
type Importance uint8

const (
	// Immediately runs the job on the calling goroutine, whatever the mode.
	Immediately Importance = iota
	// Soon queues on the high-priority lane of the worker pool.
	Soon
	// AfterQueued queues on the low-priority lane.
	AfterQueued
)

func (i Importance) String() string {
	switch i {
	case Immediately:
		return "immediately"
	case Soon:
		return "soon"
	case AfterQueued:
		return "after_queued"
	default:
		return fmt.Sprintf("importance(%d)", uint8(i))
	}
}
