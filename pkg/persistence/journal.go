package persistence

import (
	"context"
)

// Batch of changes made by a single committed transaction.
type Batch struct {
	ID      string   `cbor:"1,keyasint"`
	TxID    int64    `cbor:"2,keyasint"`
	TxTime  int64    `cbor:"3,keyasint"`
	Changes []Change `cbor:"4,keyasint"`
}

// Journal durably stores the changes made by committed transactions,
// allowing the tree to be reconstructed after a restart.
type Journal interface {
	// Append a batch of changes. The changes of a batch must either
	// be applied in their entirety or not at all.
	Append(ctx context.Context, batch *Batch) error
	// Replay calls a function for the latest image of every record
	// stored in the journal, in no particular order.
	Replay(ctx context.Context, f func(image RecordImage) error) error
}
