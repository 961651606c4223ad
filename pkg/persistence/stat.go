package persistence

// Stat is the metadata block that is stored alongside the data of
// every record.
type Stat struct {
	// Transaction ID of the transaction that created the record.
	Czxid int64 `cbor:"1,keyasint"`
	// Transaction ID of the transaction that last modified the
	// record's data.
	Mzxid int64 `cbor:"2,keyasint"`
	// Transaction ID of the transaction that last added or removed
	// a child of the record.
	Pzxid int64 `cbor:"3,keyasint"`
	// Time at which the record was created, in milliseconds since
	// the Unix epoch.
	Ctime int64 `cbor:"4,keyasint"`
	// Time at which the record's data was last modified, in
	// milliseconds since the Unix epoch.
	Mtime int64 `cbor:"5,keyasint"`

	Version  int32 `cbor:"6,keyasint"`
	Cversion int32 `cbor:"7,keyasint"`
	Aversion int32 `cbor:"8,keyasint"`

	DataLength  int32 `cbor:"9,keyasint"`
	NumChildren int32 `cbor:"10,keyasint"`
}

// NewStat returns the Stat of a record that is created by a given
// transaction.
func NewStat(txID, txTime int64, dataLength int) Stat {
	return Stat{
		Czxid:      txID,
		Mzxid:      txID,
		Pzxid:      txID,
		Ctime:      txTime,
		Mtime:      txTime,
		DataLength: int32(dataLength),
	}
}

// LastTxID returns the highest transaction ID stored in the Stat.
func (s *Stat) LastTxID() int64 {
	txID := s.Czxid
	if s.Mzxid > txID {
		txID = s.Mzxid
	}
	if s.Pzxid > txID {
		txID = s.Pzxid
	}
	return txID
}
