package segment

import (
	"encoding/binary"
	"fmt"
)

// descriptorMagic tags the fixed header so a stray file never gets
// misinterpreted as a segment descriptor.
const descriptorMagic = 0x43504341 // "CPCA"

// descriptorSize is the fixed on-disk size of a descriptor, §4.2. The
// header is padded out to a round number so future fields can be added
// without shifting the data file's first byte.
const descriptorSize = 64

// descriptor is the fixed-size header persisted at the start of every
// segment's data file.
//
// Range bookkeeping: the spec's data model carries a signed Range field.
// We use it as an entry-count watermark: -1 means the segment is still
// open-ended (unlocked, still receiving appends or awaiting commit), and a
// non-negative value is the number of index positions the segment spans
// once Locked is set (all those entries are durably committed; after
// compaction some positions may have no entry). This resolves
// an otherwise-unspecified field per the recovery algorithm in §4.2, which
// needs a way to tell "awaiting entries" apart from "finalized with N
// entries" when two versions of the same segment ID are found on disk.
type descriptor struct {
	Magic          uint32
	ID             uint64
	Version        uint64
	FirstIndex     uint64
	Range          int64
	MaxEntrySize   uint32
	MaxSegmentSize uint64
	Locked         bool
}

func encodeDescriptor(d descriptor) []byte {
	buf := make([]byte, descriptorSize)
	binary.BigEndian.PutUint32(buf[0:4], descriptorMagic)
	binary.BigEndian.PutUint64(buf[4:12], d.ID)
	binary.BigEndian.PutUint64(buf[12:20], d.Version)
	binary.BigEndian.PutUint64(buf[20:28], d.FirstIndex)
	binary.BigEndian.PutUint64(buf[28:36], uint64(d.Range))
	binary.BigEndian.PutUint32(buf[36:40], d.MaxEntrySize)
	binary.BigEndian.PutUint64(buf[40:48], d.MaxSegmentSize)
	if d.Locked {
		buf[48] = 1
	}
	return buf
}

func decodeDescriptor(buf []byte) (descriptor, error) {
	if len(buf) < descriptorSize {
		return descriptor{}, fmt.Errorf("segment: short descriptor (%d bytes)", len(buf))
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != descriptorMagic {
		return descriptor{}, fmt.Errorf("segment: bad descriptor magic %x", magic)
	}
	return descriptor{
		Magic:          magic,
		ID:             binary.BigEndian.Uint64(buf[4:12]),
		Version:        binary.BigEndian.Uint64(buf[12:20]),
		FirstIndex:     binary.BigEndian.Uint64(buf[20:28]),
		Range:          int64(binary.BigEndian.Uint64(buf[28:36])),
		MaxEntrySize:   binary.BigEndian.Uint32(buf[36:40]),
		MaxSegmentSize: binary.BigEndian.Uint64(buf[40:48]),
		Locked:         buf[48] != 0,
	}, nil
}

// descriptorStore is the minimal random-access surface writeDescriptor and
// readDescriptor need; a *buffer.Cursor satisfies it.
type descriptorStore interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// writeDescriptor persists d at the head of f.
func writeDescriptor(f descriptorStore, d descriptor) error {
	_, err := f.WriteAt(encodeDescriptor(d), 0)
	return err
}

func readDescriptor(f descriptorStore) (descriptor, error) {
	buf := make([]byte, descriptorSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return descriptor{}, err
	}
	return decodeDescriptor(buf)
}

// dataFileName / indexFileName implement the `{name}-{id}-{version}.{ext}`
// naming scheme from §6, zero-padded so a directory listing sorts in id,
// version order.
func dataFileName(name string, id, version uint64) string {
	return fmt.Sprintf("%s-%020d-%020d.log", name, id, version)
}

func indexFileName(name string, id, version uint64) string {
	return fmt.Sprintf("%s-%020d-%020d.index", name, id, version)
}
