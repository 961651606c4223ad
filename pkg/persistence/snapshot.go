package persistence

import (
	"io"

	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/fxamacker/cbor/v2"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const snapshotFormatVersion = 1

type snapshot struct {
	FormatVersion int           `cbor:"1,keyasint"`
	Records       []RecordImage `cbor:"2,keyasint"`
}

// WriteSnapshot writes a set of record images to a stream, encoded as
// CBOR.
func WriteSnapshot(w io.Writer, images []RecordImage) error {
	if err := cbor.NewEncoder(w).Encode(snapshot{
		FormatVersion: snapshotFormatVersion,
		Records:       images,
	}); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to encode snapshot")
	}
	return nil
}

// ReadSnapshot reads a set of record images from a stream that was
// written by WriteSnapshot.
func ReadSnapshot(r io.Reader) ([]RecordImage, error) {
	var s snapshot
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to decode snapshot")
	}
	if s.FormatVersion != snapshotFormatVersion {
		return nil, status.Errorf(codes.InvalidArgument, "Snapshot has format version %d, while %d was expected", s.FormatVersion, snapshotFormatVersion)
	}
	return s.Records, nil
}

// MarshalRecordImage encodes a single record image as CBOR.
func MarshalRecordImage(image *RecordImage) ([]byte, error) {
	data, err := cbor.Marshal(image)
	if err != nil {
		return nil, util.StatusWrapfWithCode(err, codes.Internal, "Failed to encode record %d", image.ID)
	}
	return data, nil
}

// UnmarshalRecordImage decodes a single record image that was encoded
// by MarshalRecordImage.
func UnmarshalRecordImage(data []byte) (RecordImage, error) {
	var image RecordImage
	if err := cbor.Unmarshal(data, &image); err != nil {
		return RecordImage{}, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to decode record")
	}
	return image, nil
}
