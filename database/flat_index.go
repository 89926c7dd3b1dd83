package database

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tieubaoca/docqa-be/types"
)

// Persisted artifact layout, little-endian:
//
//	magic "DQIX" | format version u32 | dimension u32 | metric string |
//	count u64 | entries: chunkID string, documentID string, vector f32*dim
//
// Strings are u32 length-prefixed. The header is validated on load;
// any mismatch fails fast instead of truncating or padding vectors.
const (
	indexMagic         = "DQIX"
	indexFormatVersion = uint32(1)

	MetricCosine = "cosine"

	maxIndexString = 1 << 16
)

type indexEntry struct {
	chunkID    string
	documentID string
	vector     []float32
	norm       float32
}

// FlatIndex is an exact nearest-neighbor index over chunk embeddings.
// Search is brute-force cosine similarity, which is fine at the scale
// of per-user document collections; the ordering contract would be the
// same for an approximate structure.
//
// All structural mutation goes through the write lock, searches share
// the read lock. Persist snapshots the entries under the read lock and
// writes the file without holding it, so a slow disk never blocks
// writers.
type FlatIndex struct {
	mu        sync.RWMutex
	dimension int
	metric    string
	entries   []indexEntry
	slots     map[string]int // chunk ID -> position in entries
}

func NewFlatIndex(dimension int) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive, got %d", types.ErrConfiguration, dimension)
	}
	return &FlatIndex{
		dimension: dimension,
		metric:    MetricCosine,
		slots:     make(map[string]int),
	}, nil
}

// OpenFlatIndex loads the artifact at path, or returns an empty index
// when no artifact exists yet.
func OpenFlatIndex(path string, dimension int) (*FlatIndex, error) {
	idx, err := LoadFlatIndex(path, dimension)
	if err == nil {
		return idx, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return NewFlatIndex(dimension)
	}
	return nil, err
}

// LoadFlatIndex restores a persisted index and validates its header
// against the configured embedding dimension.
func LoadFlatIndex(path string, dimension int) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", types.ErrIndexCorruption, err)
	}
	if string(magic) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %q", types.ErrIndexCorruption, magic)
	}
	var version, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", types.ErrIndexCorruption, err)
	}
	if version != indexFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", types.ErrIndexCorruption, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", types.ErrIndexCorruption, err)
	}
	if int(dim) != dimension {
		return nil, fmt.Errorf("%w: artifact dimension %d does not match configured dimension %d",
			types.ErrIndexCorruption, dim, dimension)
	}
	metric, err := readIndexString(r)
	if err != nil {
		return nil, fmt.Errorf("%w: metric: %v", types.ErrIndexCorruption, err)
	}
	if metric != MetricCosine {
		return nil, fmt.Errorf("%w: unsupported metric %q", types.ErrIndexCorruption, metric)
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", types.ErrIndexCorruption, err)
	}
	// A valid artifact holds at least 8 length-prefix bytes plus the
	// vector per entry, so a count beyond that bound is a corrupt header.
	// Checking before the allocation below keeps a garbage count from
	// taking the process down.
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	minEntrySize := uint64(8 + 4*dimension)
	if count > uint64(info.Size())/minEntrySize {
		return nil, fmt.Errorf("%w: header count %d exceeds what a %d byte artifact can hold",
			types.ErrIndexCorruption, count, info.Size())
	}

	idx, err := NewFlatIndex(dimension)
	if err != nil {
		return nil, err
	}
	idx.entries = make([]indexEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		chunkID, err := readIndexString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", types.ErrIndexCorruption, i, err)
		}
		documentID, err := readIndexString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", types.ErrIndexCorruption, i, err)
		}
		vector := make([]float32, dimension)
		if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
			return nil, fmt.Errorf("%w: entry %d: truncated vector: %v", types.ErrIndexCorruption, i, err)
		}
		idx.slots[chunkID] = len(idx.entries)
		idx.entries = append(idx.entries, indexEntry{
			chunkID:    chunkID,
			documentID: documentID,
			vector:     vector,
			norm:       vectorNorm(vector),
		})
	}
	return idx, nil
}

func (idx *FlatIndex) Dimension() int { return idx.dimension }

func (idx *FlatIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Add appends an entry for the chunk. Re-adding a known chunk replaces
// its vector, so a re-indexed document never leaves duplicate slots.
func (idx *FlatIndex) Add(chunkID, documentID string, vector []float32) error {
	if len(vector) != idx.dimension {
		return fmt.Errorf("%w: got %d, index dimension is %d", types.ErrDimensionMismatch, len(vector), idx.dimension)
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	entry := indexEntry{
		chunkID:    chunkID,
		documentID: documentID,
		vector:     v,
		norm:       vectorNorm(v),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if slot, ok := idx.slots[chunkID]; ok {
		idx.entries[slot] = entry
		return nil
	}
	idx.slots[chunkID] = len(idx.entries)
	idx.entries = append(idx.entries, entry)
	return nil
}

// Search returns up to limit hits by descending cosine similarity. With
// fewer live entries than limit, all of them are returned.
func (idx *FlatIndex) Search(vector []float32, limit int, allowed map[string]struct{}) ([]types.IndexHit, error) {
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: got %d, index dimension is %d", types.ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}
	qnorm := vectorNorm(vector)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]types.IndexHit, 0, limit)
	for i := range idx.entries {
		e := &idx.entries[i]
		if allowed != nil {
			if _, ok := allowed[e.documentID]; !ok {
				continue
			}
		}
		hits = append(hits, types.IndexHit{
			ChunkID:    e.chunkID,
			DocumentID: e.documentID,
			Score:      cosine(vector, qnorm, e.vector, e.norm),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteDocument removes every entry of the document and returns the
// number removed. Concurrent searches see either all of the document's
// entries or none of them.
func (idx *FlatIndex) DeleteDocument(documentID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.deleteLocked(func(e *indexEntry) bool { return e.documentID == documentID })
}

// DeleteChunks removes the given chunk entries; used by the reconciler
// to drop orphaned slots.
func (idx *FlatIndex) DeleteChunks(chunkIDs []string) int {
	if len(chunkIDs) == 0 {
		return 0
	}
	doomed := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		doomed[id] = struct{}{}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.deleteLocked(func(e *indexEntry) bool {
		_, ok := doomed[e.chunkID]
		return ok
	})
}

func (idx *FlatIndex) deleteLocked(doomed func(*indexEntry) bool) int {
	kept := idx.entries[:0]
	removed := 0
	for i := range idx.entries {
		if doomed(&idx.entries[i]) {
			removed++
			continue
		}
		kept = append(kept, idx.entries[i])
	}
	if removed == 0 {
		return 0
	}
	idx.entries = kept
	idx.slots = make(map[string]int, len(kept))
	for i := range kept {
		idx.slots[kept[i].chunkID] = i
	}
	return removed
}

// ChunkIDs lists the live entries, for reconciliation against the
// chunk store.
func (idx *FlatIndex) ChunkIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, len(idx.entries))
	for i := range idx.entries {
		ids[i] = idx.entries[i].chunkID
	}
	return ids
}

// Persist writes the artifact to a temp file and renames it into place,
// so a crash mid-write never corrupts the previous artifact.
func (idx *FlatIndex) Persist(path string) error {
	idx.mu.RLock()
	snapshot := make([]indexEntry, len(idx.entries))
	copy(snapshot, idx.entries)
	idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(indexMagic); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, indexFormatVersion); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(idx.dimension)); err != nil {
		tmp.Close()
		return err
	}
	if err := writeIndexString(w, idx.metric); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(snapshot))); err != nil {
		tmp.Close()
		return err
	}
	for i := range snapshot {
		if err := writeIndexString(w, snapshot[i].chunkID); err != nil {
			tmp.Close()
			return err
		}
		if err := writeIndexString(w, snapshot[i].documentID); err != nil {
			tmp.Close()
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, snapshot[i].vector); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func cosine(a []float32, anorm float32, b []float32, bnorm float32) float32 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (anorm * bnorm)
}

func vectorNorm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func writeIndexString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readIndexString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxIndexString {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
