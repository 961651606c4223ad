package persistence

import (
	"sync/atomic"

	"github.com/buildbarn/bb-coordination/pkg/acl"
)

// RecordID uniquely identifies a record. Identifiers are never reused
// by a Factory. The zero value is used to denote the absence of a
// record, such as the parent of the root.
type RecordID uint64

// RootRecordID is the identifier of the root of the tree.
const RootRecordID RecordID = 1

// Contents of a record that may be modified by transactions. Contents
// are never modified in place. Changes are made by replacing the
// Contents of a record in its entirety. This allows transactions to
// roll back changes by restoring the previous Contents, and permits
// readers that don't hold any locks to observe consistent values.
type Contents struct {
	Data []byte
	ACL  []acl.Entry
	Stat Stat
}

// Record is the persistent representation of a node in the tree. It
// is owned by a Factory, which stores records in an arena indexed by
// RecordID.
type Record struct {
	id        RecordID
	name      string
	ephemeral bool

	parentID atomic.Uint64
	contents atomic.Pointer[Contents]
}

func newRecord(id RecordID, name string, ephemeral bool, parentID RecordID, contents *Contents) *Record {
	r := &Record{
		id:        id,
		name:      name,
		ephemeral: ephemeral,
	}
	r.parentID.Store(uint64(parentID))
	r.contents.Store(contents)
	return r
}

// ID returns the identifier of the record.
func (r *Record) ID() RecordID {
	return r.id
}

// Name of the record within its parent.
func (r *Record) Name() string {
	return r.name
}

// IsEphemeral returns whether the record is tied to the lifetime of a
// session. Ephemeral records are not journaled.
func (r *Record) IsEphemeral() bool {
	return r.ephemeral
}

// ParentID returns the identifier of the parent of the record.
func (r *Record) ParentID() RecordID {
	return RecordID(r.parentID.Load())
}

// SetParentID changes the parent of the record.
func (r *Record) SetParentID(parentID RecordID) {
	r.parentID.Store(uint64(parentID))
}

// Contents returns the current contents of the record. The caller
// must not modify the returned value.
func (r *Record) Contents() *Contents {
	return r.contents.Load()
}

// Image returns a copy of the record's state that can be stored.
func (r *Record) Image() RecordImage {
	contents := r.Contents()
	return RecordImage{
		ID:        r.id,
		ParentID:  r.ParentID(),
		Name:      r.name,
		Ephemeral: r.ephemeral,
		Data:      contents.Data,
		ACL:       contents.ACL,
		Stat:      contents.Stat,
	}
}

// RecordImage is a snapshot of the state of a record, used to write
// records to journals and snapshots, and to restore them.
type RecordImage struct {
	ID        RecordID    `cbor:"1,keyasint"`
	ParentID  RecordID    `cbor:"2,keyasint"`
	Name      string      `cbor:"3,keyasint"`
	Ephemeral bool        `cbor:"4,keyasint,omitempty"`
	Data      []byte      `cbor:"5,keyasint"`
	ACL       []acl.Entry `cbor:"6,keyasint"`
	Stat      Stat        `cbor:"7,keyasint"`
}
