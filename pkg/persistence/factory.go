package persistence

// Factory owns the records backing the nodes of a tree. Records are
// stored in an arena indexed by RecordID, so that nodes only need to
// hold on to an identifier instead of a reference.
//
// Methods that modify records may only be called while holding the
// hierarchical locks protecting the record. The arena itself is safe
// for concurrent use.
type Factory interface {
	// CreateRecord allocates a new record that has no parent.
	CreateRecord(name string, ephemeral bool, contents *Contents) *Record
	// DeleteRecord removes a record from the arena.
	DeleteRecord(r *Record)
	// UndeleteRecord reinserts a record that was removed through
	// DeleteRecord. This is used to roll back aborted
	// transactions.
	UndeleteRecord(r *Record)
	// UpdateContents replaces the contents of a record.
	UpdateContents(r *Record, contents *Contents)
	// GetRecord looks up a record by identifier.
	GetRecord(id RecordID) (*Record, bool)
	// Records returns all records stored in the arena, in no
	// particular order.
	Records() []*Record

	// NewChangeList creates a ChangeList that can be used to
	// record changes made by a transaction.
	NewChangeList() ChangeList

	// TotalNodes returns the number of records in the arena.
	TotalNodes() int64
	// TotalDataSize returns the sum of the data sizes of all
	// records in the arena.
	TotalDataSize() int64
}
