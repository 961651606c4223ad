package persistence

import (
	"github.com/buildbarn/bb-coordination/pkg/sync"
)

// ChangeKind indicates how a Change affects a record.
type ChangeKind int

const (
	// ChangeKindCreate indicates a record was created.
	ChangeKindCreate ChangeKind = iota
	// ChangeKindUpdate indicates the contents or parent of a record
	// were changed.
	ChangeKindUpdate
	// ChangeKindRemove indicates a record was deleted.
	ChangeKindRemove
	// ChangeKindPoison marks a record as poisoned. Poison pills
	// don't modify the record, but are forwarded to the journal so
	// that consumers of the journal may act upon them.
	ChangeKindPoison
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeKindCreate:
		return "create"
	case ChangeKindUpdate:
		return "update"
	case ChangeKindRemove:
		return "remove"
	case ChangeKindPoison:
		return "poison"
	default:
		return "unknown"
	}
}

// Change to a single record that is part of a ChangeList.
type Change struct {
	Kind       ChangeKind  `cbor:"1,keyasint"`
	Image      RecordImage `cbor:"2,keyasint"`
	PoisonSpec string      `cbor:"3,keyasint,omitempty"`
}

// CommitTask yields the outcome of an asynchronous commit once the
// changes are durable.
type CommitTask <-chan error

// ChangeList is a batch of changes made by a single transaction that
// is pending to be committed durably. A ChangeList is created lazily
// by a transaction the first time it modifies the tree.
type ChangeList interface {
	// SetTime sets the time of the transaction, in milliseconds
	// since the Unix epoch.
	SetTime(txTime int64)
	// Record a change to a record.
	Record(change Change)
	// Commit the changes asynchronously. An error is returned if
	// the commit could not be started.
	Commit(txID int64) (CommitTask, error)
	// CommitSync commits the changes, setting the provided
	// WaitHandle once the changes are durable.
	CommitSync(txID int64, waitHandle *sync.WaitHandle) error
	// Abort discards all recorded changes.
	Abort()
}
