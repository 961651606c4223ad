package journal

import (
	"context"
	"encoding/binary"

	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/dgraph-io/badger/v4"

	"google.golang.org/grpc/codes"
)

var (
	recordKeyPrefix = []byte("record/")
	poisonKeyPrefix = []byte("poison/")
	lastTxIDKey     = []byte("meta/last_transaction_id")
)

func recordKey(prefix []byte, id persistence.RecordID) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(id))
	return key
}

type badgerJournal struct {
	db *badger.DB
}

// NewBadgerJournal creates a Journal that stores the latest image of
// every record in a Badger database. Every batch is applied as a single
// Badger transaction, meaning that the database never contains the
// partial results of a transaction.
func NewBadgerJournal(db *badger.DB) persistence.Journal {
	return &badgerJournal{
		db: db,
	}
}

func (j *badgerJournal) Append(ctx context.Context, batch *persistence.Batch) error {
	if err := util.StatusFromContext(ctx); err != nil {
		return err
	}
	if err := j.db.Update(func(txn *badger.Txn) error {
		for _, change := range batch.Changes {
			switch change.Kind {
			case persistence.ChangeKindCreate, persistence.ChangeKindUpdate:
				value, err := persistence.MarshalRecordImage(&change.Image)
				if err != nil {
					return err
				}
				if err := txn.Set(recordKey(recordKeyPrefix, change.Image.ID), value); err != nil {
					return err
				}
			case persistence.ChangeKindRemove:
				if err := txn.Delete(recordKey(recordKeyPrefix, change.Image.ID)); err != nil {
					return err
				}
				if err := txn.Delete(recordKey(poisonKeyPrefix, change.Image.ID)); err != nil {
					return err
				}
			case persistence.ChangeKindPoison:
				if err := txn.Set(recordKey(poisonKeyPrefix, change.Image.ID), []byte(change.PoisonSpec)); err != nil {
					return err
				}
			default:
				panic("Unknown change kind")
			}
		}
		var lastTxID [8]byte
		binary.BigEndian.PutUint64(lastTxID[:], uint64(batch.TxID))
		return txn.Set(lastTxIDKey, lastTxID[:])
	}); err != nil {
		return util.StatusWrapfWithCode(err, codes.Internal, "Failed to store transaction %d", batch.TxID)
	}
	return nil
}

func (j *badgerJournal) Replay(ctx context.Context, f func(image persistence.RecordImage) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordKeyPrefix); it.ValidForPrefix(recordKeyPrefix); it.Next() {
			if err := util.StatusFromContext(ctx); err != nil {
				return err
			}
			var image persistence.RecordImage
			if err := it.Item().Value(func(value []byte) error {
				var err error
				image, err = persistence.UnmarshalRecordImage(value)
				return err
			}); err != nil {
				return util.StatusWrapf(err, "Failed to read record with key %#v", string(it.Item().Key()))
			}
			if err := f(image); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastTransactionID returns the identifier of the last transaction
// that was stored in a Badger database by a journal.
func LastTransactionID(db *badger.DB) (int64, error) {
	var txID int64
	if err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastTxIDKey)
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			txID = int64(binary.BigEndian.Uint64(value))
			return nil
		})
	}); err != nil {
		return 0, util.StatusWrapWithCode(err, codes.Internal, "Failed to read last transaction ID")
	}
	return txID, nil
}
