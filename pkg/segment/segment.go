package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/copycat/copycat/pkg/buffer"
	"github.com/copycat/copycat/pkg/types"
)

// ErrNotFound is returned by Segment.Get and Manager.Get for an index with
// no corresponding entry (a gap left by skip, or one dropped by compaction).
var ErrNotFound = errors.New("segment: entry not found")

// ErrSegmentFull is returned by Append when the entry would not fit within
// the segment's configured size limit. Manager checks Remaining (and its
// own MaxEntriesPerSegment limit) and rotates to a new segment before
// calling Append, so it does not rely on this error.
var ErrSegmentFull = errors.New("segment: full")

// Segment is one file pair (`.log` data file, `.index` offset index)
// tiling a contiguous range of the replicated log, as specified in §4.2.
// The data file is addressed through a pooled buffer.Cursor over a
// refcounted buffer.Region (§4.1) rather than the raw *os.File, so the
// segment's on-disk storage and the cursor that views it are separate
// concerns the way the buffer/pool layer intends.
type Segment struct {
	dir  string
	name string

	desc   descriptor
	region *buffer.Region
	pool   *buffer.Pool
	data   *buffer.Cursor
	idx    offsetIndex

	writePos int64
	count    uint32 // index positions spanned: entries appended/loaded so far, including ones dropped by compaction

	maxEntrySize   uint32
	maxSegmentSize uint64
}

// ID reports the segment's id, fixed at creation.
func (s *Segment) ID() uint64 { return s.desc.ID }

// Version reports the segment's on-disk version (bumped by compaction).
func (s *Segment) Version() uint64 { return s.desc.Version }

// FirstIndex is the log index of this segment's first entry.
func (s *Segment) FirstIndex() uint64 { return s.desc.FirstIndex }

// LastIndex is the log index of this segment's last entry, or FirstIndex-1
// if the segment is empty.
func (s *Segment) LastIndex() uint64 {
	if s.count == 0 {
		return s.desc.FirstIndex - 1
	}
	return s.desc.FirstIndex + uint64(s.count) - 1
}

// Locked reports whether every entry in this segment has been committed
// (§4.2: "locked flipped once all entries committed").
func (s *Segment) Locked() bool { return s.desc.Locked }

// createSegment initializes a brand-new, empty segment on disk.
func createSegment(dir, name string, id, version, firstIndex uint64, cfg Config) (*Segment, error) {
	dataPath := filepath.Join(dir, dataFileName(name, id, version))
	indexPath := filepath.Join(dir, indexFileName(name, id, version))

	// createSegment always starts from an empty file: an existing one at
	// this path would mean a stale segment from a prior, abandoned
	// version, so truncate it the way the old direct os.OpenFile call did.
	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("segment: clear stale data file: %w", err)
	}
	storage, err := buffer.OpenFileStorage(dataPath)
	if err != nil {
		return nil, fmt.Errorf("segment: create data file: %w", err)
	}
	region := buffer.NewRegion(storage, nil)
	pool := buffer.NewPool(region)
	data := pool.Acquire()

	desc := descriptor{
		ID:             id,
		Version:        version,
		FirstIndex:     firstIndex,
		Range:          -1,
		MaxEntrySize:   cfg.MaxEntrySize,
		MaxSegmentSize: cfg.MaxSegmentSize,
	}
	if err := writeDescriptor(data, desc); err != nil {
		data.Close()
		return nil, fmt.Errorf("segment: write descriptor: %w", err)
	}
	idx, err := createOrderedIndex(indexPath)
	if err != nil {
		data.Close()
		return nil, err
	}
	return &Segment{
		dir: dir, name: name,
		desc: desc, region: region, pool: pool, data: data, idx: idx,
		writePos:       descriptorSize,
		maxEntrySize:   cfg.MaxEntrySize,
		maxSegmentSize: cfg.MaxSegmentSize,
	}, nil
}

// openSegment opens an existing segment's files, validating and loading its
// index (rebuilding it from the data file by skip-scan if the index file is
// missing or cannot be opened; an index file shorter than the data is
// loaded as it is, not rebuilt).
func openSegment(dir, name string, id, version uint64) (*Segment, error) {
	dataPath := filepath.Join(dir, dataFileName(name, id, version))
	indexPath := filepath.Join(dir, indexFileName(name, id, version))

	if _, err := os.Stat(dataPath); err != nil {
		return nil, fmt.Errorf("segment: open data file: %w", err)
	}
	storage, err := buffer.OpenFileStorage(dataPath)
	if err != nil {
		return nil, fmt.Errorf("segment: open data file: %w", err)
	}
	region := buffer.NewRegion(storage, nil)
	pool := buffer.NewPool(region)
	data := pool.Acquire()

	desc, err := readDescriptor(data)
	if err != nil {
		data.Close()
		return nil, err
	}
	if desc.ID != id || desc.Version != version {
		data.Close()
		return nil, fmt.Errorf("segment: descriptor (%d,%d) does not match filename (%d,%d)", desc.ID, desc.Version, id, version)
	}

	s := &Segment{
		dir: dir, name: name,
		desc: desc, region: region, pool: pool, data: data,
		maxEntrySize:   desc.MaxEntrySize,
		maxSegmentSize: desc.MaxSegmentSize,
	}

	var idx offsetIndex
	if desc.Locked {
		idx, err = openSearchableIndex(indexPath)
	} else {
		idx, err = openOrderedIndex(indexPath)
	}
	if err != nil {
		// Index missing or unreadable: rebuild it by scanning the data file.
		idx, err = s.rebuildIndex(indexPath, desc.Locked)
		if err != nil {
			data.Close()
			return nil, err
		}
	}
	s.idx = idx
	s.count = uint32(idx.len())

	s.writePos, err = s.scanToEnd()
	if err != nil {
		return nil, err
	}
	// A compacted segment spans its full original range even where entries
	// were dropped; the locked descriptor's Range records that span.
	if desc.Locked && desc.Range > int64(s.count) {
		s.count = uint32(desc.Range)
	}
	return s, nil
}

// rebuildIndex reconstructs the offset index by skip-scanning the data file
// using each record's self-describing length prefix (§4.2 recovery).
func (s *Segment) rebuildIndex(indexPath string, searchable bool) (offsetIndex, error) {
	var idx offsetIndex
	var err error
	if searchable {
		idx, err = createSearchableIndex(indexPath)
	} else {
		idx, err = createOrderedIndex(indexPath)
	}
	if err != nil {
		return nil, err
	}
	pos := int64(descriptorSize)
	var lenBuf [4]byte
	var offset uint32
	for {
		if _, err := s.data.ReadAt(lenBuf[:], pos); err != nil {
			break
		}
		total, err := decodeLength(lenBuf[:])
		if err != nil || total == 0 {
			break
		}
		if _, err := s.data.ReadAt(make([]byte, 1), pos+int64(total)-1); err != nil {
			break // torn trailing record
		}
		if err := idx.append(offset, pos); err != nil {
			return nil, err
		}
		pos += int64(total)
		offset++
	}
	return idx, idx.sync()
}

// scanToEnd returns the data file's true end-of-valid-records position,
// used after loading/rebuilding the index to position subsequent appends
// correctly even if the file has trailing garbage from a torn write.
func (s *Segment) scanToEnd() (int64, error) {
	if s.count == 0 {
		return descriptorSize, nil
	}
	last := s.idx.entries()[s.count-1]
	var lenBuf [4]byte
	if _, err := s.data.ReadAt(lenBuf[:], last.Position); err != nil {
		return 0, fmt.Errorf("segment: reading last record length: %w", err)
	}
	total, err := decodeLength(lenBuf[:])
	if err != nil {
		return 0, err
	}
	return last.Position + int64(total), nil
}

// Remaining reports whether an entry of size n bytes fits within the
// segment's remaining byte budget.
func (s *Segment) Remaining(n int) bool {
	return uint64(s.writePos)+uint64(n) <= s.maxSegmentSize
}

// Append writes e at the segment's current end and returns its assigned
// index. The caller is responsible for rotating to a new segment when
// Remaining reports no room.
func (s *Segment) Append(e types.Entry) (uint64, error) {
	if s.desc.Locked {
		return 0, fmt.Errorf("segment: cannot append to locked segment %d", s.desc.ID)
	}
	buf := encodeEntry(e)
	if s.maxEntrySize > 0 && uint32(len(buf)) > s.maxEntrySize {
		return 0, fmt.Errorf("segment: entry of %d bytes exceeds max entry size %d", len(buf), s.maxEntrySize)
	}
	if !s.Remaining(len(buf)) {
		return 0, ErrSegmentFull
	}
	if _, err := s.data.WriteAt(buf, s.writePos); err != nil {
		return 0, fmt.Errorf("segment: write entry: %w", err)
	}
	if err := s.idx.append(s.count, s.writePos); err != nil {
		return 0, err
	}
	index := s.desc.FirstIndex + uint64(s.count)
	s.writePos += int64(len(buf))
	s.count++
	return index, nil
}

// Get reads back the entry at the given absolute log index. The fixed
// header and key are small and always re-read in full, but the payload
// (frequently the largest part of a record, and the part Get otherwise
// doesn't touch beyond copying it) is read through a Cursor sliced to
// just its span rather than first decoding the entire record into one
// buffer.
func (s *Segment) Get(index uint64) (types.Entry, error) {
	if index < s.desc.FirstIndex {
		return types.Entry{}, ErrNotFound
	}
	offset := uint32(index - s.desc.FirstIndex)
	pos, ok := s.idx.position(offset)
	if !ok {
		return types.Entry{}, ErrNotFound
	}

	var header [entryHeaderSize]byte
	if _, err := s.data.ReadAt(header[:], pos); err != nil {
		return types.Entry{}, fmt.Errorf("segment: read length prefix: %w", err)
	}
	total, err := decodeLength(header[:4])
	if err != nil {
		return types.Entry{}, err
	}

	var keyLenBuf [maxVarintLen64]byte
	got, err := s.data.ReadAt(keyLenBuf[:], pos+entryHeaderSize)
	if err != nil && !(err == io.EOF && got > 0) {
		return types.Entry{}, fmt.Errorf("segment: read key length: %w", err)
	}
	keyLen, n := binary.Uvarint(keyLenBuf[:got])
	if n <= 0 {
		return types.Entry{}, fmt.Errorf("segment: invalid key-length varint")
	}

	keyOff := pos + entryHeaderSize + int64(n)
	var key []byte
	if keyLen > 0 {
		key = make([]byte, keyLen)
		if _, err := s.data.ReadAt(key, keyOff); err != nil {
			return types.Entry{}, fmt.Errorf("segment: read key: %w", err)
		}
	}

	payloadOff := keyOff + int64(keyLen)
	payloadLen := int64(total) - (payloadOff - pos)
	if payloadLen < 0 {
		return types.Entry{}, fmt.Errorf("segment: record length mismatch at offset %d", pos)
	}
	var payload []byte
	if payloadLen > 0 {
		sub := s.data.Slice(payloadOff, payloadLen)
		payload = make([]byte, payloadLen)
		_, err := sub.Read(payload)
		sub.Close()
		if err != nil && err != io.EOF {
			return types.Entry{}, fmt.Errorf("segment: read payload: %w", err)
		}
	}

	return types.Entry{
		Index:     index,
		Kind:      types.EntryKind(header[4]),
		Term:      binary.BigEndian.Uint64(header[5:13]),
		Timestamp: binary.BigEndian.Uint64(header[13:21]),
		Key:       key,
		Payload:   payload,
	}, nil
}

// Contains reports whether index falls within this segment's populated
// range and has not been dropped by compaction.
func (s *Segment) Contains(index uint64) bool {
	if index < s.desc.FirstIndex || index > s.LastIndex() {
		return false
	}
	_, ok := s.idx.position(uint32(index - s.desc.FirstIndex))
	return ok
}

// TruncateSuffix discards every entry with index > keepIndex, which must
// lie within [FirstIndex-1, LastIndex].
func (s *Segment) TruncateSuffix(keepIndex uint64) error {
	if keepIndex < s.desc.FirstIndex-1 {
		return fmt.Errorf("segment: truncate index %d precedes segment start %d", keepIndex, s.desc.FirstIndex)
	}
	if keepIndex >= s.LastIndex() {
		return nil
	}
	oi, ok := s.idx.(*orderedIndex)
	if !ok {
		return fmt.Errorf("segment: cannot truncate a compacted (searchable-index) segment")
	}
	keepOffset := int64(keepIndex) - int64(s.desc.FirstIndex)
	if keepOffset < 0 {
		if err := oi.truncateSuffix(0); err != nil {
			return err
		}
		oi.positions = oi.positions[:0]
		if err := oi.f.Truncate(0); err != nil {
			return err
		}
		if _, err := oi.f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		s.count = 0
		s.writePos = descriptorSize
		return s.data.Truncate(descriptorSize)
	}
	if err := oi.truncateSuffix(uint32(keepOffset)); err != nil {
		return err
	}
	s.count = uint32(keepOffset) + 1
	end, err := s.scanToEnd()
	if err != nil {
		return err
	}
	s.writePos = end
	return s.data.Truncate(end)
}

// setLocked persists the segment's committed/locked flag.
func (s *Segment) setLocked(locked bool) error {
	s.desc.Locked = locked
	if locked {
		s.desc.Range = int64(s.count)
	}
	return writeDescriptor(s.data, s.desc)
}

func (s *Segment) sync() error {
	if err := s.data.Sync(); err != nil {
		return err
	}
	return s.idx.sync()
}

func (s *Segment) close() error {
	idxErr := s.idx.close()
	dataErr := s.data.Close()
	if dataErr != nil {
		return dataErr
	}
	return idxErr
}

func (s *Segment) delete() error {
	_ = s.close()
	dataPath := filepath.Join(s.dir, dataFileName(s.name, s.desc.ID, s.desc.Version))
	indexPath := filepath.Join(s.dir, indexFileName(s.name, s.desc.ID, s.desc.Version))
	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(indexPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
