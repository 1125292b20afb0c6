package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"scopetrace/internal/trace"
)

// snapshotSchema must be bumped when trace.Snapshot changes shape.
const snapshotSchema uint16 = 1

// ErrSchema is returned when decoding a snapshot written by an incompatible
// version.
var ErrSchema = errors.New("unsupported snapshot schema")

type snapshotFile struct {
	Schema   uint16         `msgpack:"schema"`
	Snapshot trace.Snapshot `msgpack:"snapshot"`
}

// EncodeSnapshot writes snap to w in the binary snapshot format, to be
// converted to JSON later with DecodeSnapshot and Write.
func EncodeSnapshot(w io.Writer, snap trace.Snapshot) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(&snapshotFile{Schema: snapshotSchema, Snapshot: snap}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (trace.Snapshot, error) {
	var f snapshotFile
	if err := msgpack.NewDecoder(r).Decode(&f); err != nil {
		return trace.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if f.Schema != snapshotSchema {
		return trace.Snapshot{}, fmt.Errorf("%w: %d", ErrSchema, f.Schema)
	}
	return f.Snapshot, nil
}
