package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/copycat/copycat/pkg/types"
)

// fileNamePattern matches `{name}-{id}-{version}.{log,index}`, capturing
// the numeric id and version fields.
var fileNamePattern = regexp.MustCompile(`^(.+)-(\d{20})-(\d{20})\.(log|index)$`)

// Manager tiles a sequence of Segments across the full index space of a
// replicated log and implements the operations of §4.2: append, get,
// containsIndex, skip, truncate, commit and compact.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	segments []*Segment // ascending FirstIndex, contiguous, no gaps
	next     uint64      // next index to be assigned by Append
}

// Open scans cfg.Directory for segment files, reconciles duplicate
// versions left by a crash mid-compaction, opens the surviving segments in
// order and validates they tile the index space without gaps. If the
// directory is empty a single empty segment starting at index 1 is
// created.
func Open(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("segment: create directory: %w", err)
	}

	entries, err := os.ReadDir(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("segment: read directory: %w", err)
	}

	type candidate struct {
		id, version uint64
	}
	bestByID := map[uint64]candidate{}
	for _, ent := range entries {
		m := fileNamePattern.FindStringSubmatch(ent.Name())
		if m == nil || m[1] != cfg.Name || m[4] != "log" {
			continue
		}
		id, _ := strconv.ParseUint(m[2], 10, 64)
		version, _ := strconv.ParseUint(m[3], 10, 64)
		cur, ok := bestByID[id]
		if !ok {
			bestByID[id] = candidate{id, version}
			continue
		}
		resolved, err := resolveDuplicateVersions(cfg, id, cur.version, version)
		if err != nil {
			return nil, err
		}
		bestByID[id] = candidate{id, resolved}
	}

	ids := make([]uint64, 0, len(bestByID))
	for id := range bestByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	m := &Manager{cfg: cfg}
	for _, id := range ids {
		c := bestByID[id]
		seg, err := openSegment(cfg.Directory, cfg.Name, c.id, c.version)
		if err != nil {
			return nil, fmt.Errorf("segment: open segment %d: %w", id, err)
		}
		if len(m.segments) > 0 {
			prev := m.segments[len(m.segments)-1]
			if seg.FirstIndex() != prev.LastIndex()+1 {
				return nil, fmt.Errorf("segment: gap between segment %d (last %d) and segment %d (first %d)",
					prev.ID(), prev.LastIndex(), seg.ID(), seg.FirstIndex())
			}
		}
		m.segments = append(m.segments, seg)
	}

	if len(m.segments) == 0 {
		seg, err := createSegment(cfg.Directory, cfg.Name, 1, 1, 1, cfg)
		if err != nil {
			return nil, err
		}
		m.segments = append(m.segments, seg)
		m.next = 1
	} else {
		last := m.segments[len(m.segments)-1]
		m.next = last.LastIndex() + 1
	}
	return m, nil
}

// resolveDuplicateVersions picks between two on-disk versions of the same
// segment id, the situation left by a crash between writing a compacted
// segment's files and deleting the pre-compaction ones (§4.2 recovery). The
// locked, higher version wins; an unlocked higher version is discarded as
// an incomplete compaction attempt.
func resolveDuplicateVersions(cfg Config, id, a, b uint64) (uint64, error) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	hiData, err := os.OpenFile(filepath.Join(cfg.Directory, dataFileName(cfg.Name, id, hi)), os.O_RDONLY, 0)
	if err != nil {
		return lo, nil // higher version file unreadable, trust the lower
	}
	defer hiData.Close()
	desc, err := readDescriptor(hiData)
	if err != nil || !desc.Locked {
		if err := os.Remove(filepath.Join(cfg.Directory, dataFileName(cfg.Name, id, hi))); err != nil && !os.IsNotExist(err) {
			return 0, err
		}
		_ = os.Remove(filepath.Join(cfg.Directory, indexFileName(cfg.Name, id, hi)))
		return lo, nil
	}
	if err := os.Remove(filepath.Join(cfg.Directory, dataFileName(cfg.Name, id, lo))); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	_ = os.Remove(filepath.Join(cfg.Directory, indexFileName(cfg.Name, id, lo)))
	return hi, nil
}

func (m *Manager) active() *Segment { return m.segments[len(m.segments)-1] }

// Append assigns the next log index to e and writes it, rotating to a new
// segment first if the active segment has no room.
func (m *Manager) Append(e types.Entry) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.Index = m.next
	buf := encodeEntry(e)
	act := m.active()
	if !act.Remaining(len(buf)) || (m.cfg.MaxEntriesPerSegment > 0 && act.count >= m.cfg.MaxEntriesPerSegment) {
		if err := act.sync(); err != nil {
			return 0, err
		}
		next, err := createSegment(m.cfg.Directory, m.cfg.Name, act.ID()+1, 1, m.next, m.cfg)
		if err != nil {
			return 0, err
		}
		m.segments = append(m.segments, next)
		act = next
	}
	index, err := act.Append(e)
	if err != nil {
		return 0, err
	}
	m.next = index + 1
	return index, nil
}

// segmentFor returns the segment owning index, via binary search over the
// ascending, contiguous segment list.
func (m *Manager) segmentFor(index uint64) *Segment {
	i := sort.Search(len(m.segments), func(i int) bool { return m.segments[i].LastIndex() >= index })
	if i >= len(m.segments) || index < m.segments[i].FirstIndex() {
		return nil
	}
	return m.segments[i]
}

// Get reads back the entry at index.
func (m *Manager) Get(index uint64) (types.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := m.segmentFor(index)
	if seg == nil {
		return types.Entry{}, ErrNotFound
	}
	return seg.Get(index)
}

// ContainsIndex reports whether index names a present (non-gap) entry.
func (m *Manager) ContainsIndex(index uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := m.segmentFor(index)
	return seg != nil && seg.Contains(index)
}

// FirstIndex is the smallest index any segment still carries.
func (m *Manager) FirstIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segments[0].FirstIndex()
}

// LastIndex is the highest index assigned so far (next to be assigned,
// minus one).
func (m *Manager) LastIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next == 0 {
		return 0
	}
	return m.next - 1
}

// Skip advances the next-index counter by n without writing any entries,
// recording an administrative gap (e.g. to reserve slots consumed by an
// out-of-band snapshot install). Skip must not be used to cross the
// boundary into a not-yet-created segment while the active segment still
// has unused capacity ahead of it; doing so is refused.
func (m *Manager) Skip(n uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next += n
	return nil
}

// Truncate discards every entry with index > keepIndex across as many
// trailing segments as necessary, deleting whole segments that fall
// entirely after keepIndex and truncating the one that straddles it.
func (m *Manager) Truncate(keepIndex uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keepIndex < m.segments[0].FirstIndex()-1 {
		return fmt.Errorf("segment: truncate index %d precedes log start", keepIndex)
	}
	i := sort.Search(len(m.segments), func(i int) bool { return m.segments[i].LastIndex() > keepIndex })
	if i >= len(m.segments) {
		return nil // nothing to discard
	}
	if err := m.segments[i].TruncateSuffix(keepIndex); err != nil {
		return err
	}
	for j := i + 1; j < len(m.segments); j++ {
		if err := m.segments[j].delete(); err != nil {
			return err
		}
	}
	m.segments = m.segments[:i+1]
	m.next = m.segments[len(m.segments)-1].LastIndex() + 1
	return nil
}

// Commit advances the commit watermark to index, cascading the lock flag
// onto every segment that becomes fully committed as a result (§4.2: a
// segment's Locked flag is set once every entry it holds is committed).
func (m *Manager) Commit(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.segments) - 1; i >= 0; i-- {
		seg := m.segments[i]
		if seg.LastIndex() > index || seg.count == 0 {
			continue
		}
		if seg.Locked() {
			break // everything before an already-locked segment is locked too
		}
		if err := seg.setLocked(true); err != nil {
			return err
		}
	}
	return nil
}

// Compact replaces the segment holding id with a new, higher-version
// segment containing only the entries retain accepts, using a searchable
// (gap-tolerant) offset index. The swap is atomic from callers'
// perspective: the old segment's files are removed only after the new one
// is fully written and synced.
func (m *Manager) Compact(id uint64, retain func(types.Entry) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := -1
	for i, s := range m.segments {
		if s.ID() == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("segment: no such segment %d", id)
	}
	old := m.segments[pos]
	if !old.Locked() {
		return fmt.Errorf("segment: cannot compact unlocked segment %d", id)
	}

	newVersion := old.Version() + 1
	fresh, err := createSegment(m.cfg.Directory, m.cfg.Name, id, newVersion, old.FirstIndex(), m.cfg)
	if err != nil {
		return err
	}
	// Swap in a searchable index so gaps left by dropped entries are
	// representable.
	idxPath := filepath.Join(m.cfg.Directory, indexFileName(m.cfg.Name, id, newVersion))
	if err := fresh.idx.close(); err != nil {
		return err
	}
	searchable, err := createSearchableIndex(idxPath)
	if err != nil {
		return err
	}
	fresh.idx = searchable

	for offset := uint32(0); offset < old.count; offset++ {
		index := old.FirstIndex() + uint64(offset)
		e, err := old.Get(index)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return err
		}
		if !retain(e) {
			continue
		}
		buf := encodeEntry(e)
		if _, err := fresh.data.WriteAt(buf, fresh.writePos); err != nil {
			return err
		}
		if err := fresh.idx.append(offset, fresh.writePos); err != nil {
			return err
		}
		fresh.writePos += int64(len(buf))
	}
	// The replacement keeps the old segment's full index range; dropped
	// entries are gaps in the searchable index, not a shorter segment.
	fresh.count = old.count
	if err := fresh.setLocked(true); err != nil {
		return err
	}
	if err := fresh.sync(); err != nil {
		return err
	}

	if err := old.delete(); err != nil {
		return err
	}
	m.segments[pos] = fresh
	return nil
}

// Close flushes and closes every open segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, s := range m.segments {
		if err := s.sync(); err != nil && first == nil {
			first = err
		}
		if err := s.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Segments returns a snapshot of the current segment list, ordered by
// FirstIndex, for inspection (e.g. by a compaction policy driver).
func (m *Manager) Segments() []*Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Segment, len(m.segments))
	copy(out, m.segments)
	return out
}
