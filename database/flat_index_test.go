package database

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/docqa-be/types"
)

func TestFlatIndexAddAndSearchOrdering(t *testing.T) {
	idx, err := NewFlatIndex(3)
	require.NoError(t, err)

	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0, 0}))
	require.NoError(t, idx.Add("c2", "d1", []float32{0.9, 0.1, 0}))
	require.NoError(t, idx.Add("c3", "d2", []float32{0, 1, 0}))

	hits, err := idx.Search([]float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c2", hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestFlatIndexSearchFewerEntriesThanLimit(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0}))
	require.NoError(t, idx.Add("c2", "d1", []float32{0, 1}))
	require.NoError(t, idx.Add("c3", "d2", []float32{1, 1}))

	hits, err := idx.Search([]float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 3, "an index with 3 live entries returns exactly 3 results")
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestFlatIndexDimensionMismatch(t *testing.T) {
	idx, err := NewFlatIndex(4)
	require.NoError(t, err)

	err = idx.Add("c1", "d1", []float32{1, 2})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	_, err = idx.Search([]float32{1, 2, 3}, 1, nil)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestFlatIndexAddReplacesExistingChunk(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0}))
	require.NoError(t, idx.Add("c1", "d1", []float32{0, 1}))

	assert.Equal(t, 1, idx.Count(), "re-adding a chunk must not leave duplicate slots")
	hits, err := idx.Search([]float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 0.0001)
}

func TestFlatIndexDeleteDocument(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0}))
	require.NoError(t, idx.Add("c2", "d1", []float32{0, 1}))
	require.NoError(t, idx.Add("c3", "d2", []float32{1, 1}))

	removed := idx.DeleteDocument("d1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search([]float32{1, 0}, 10, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "d1", h.DocumentID, "searches must never return chunks of a deleted document")
	}

	assert.Equal(t, 0, idx.DeleteDocument("d1"), "second delete finds nothing")
}

func TestFlatIndexSearchAllowedFilter(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)

	require.NoError(t, idx.Add("c1", "docA", []float32{1, 0}))
	require.NoError(t, idx.Add("c2", "docB", []float32{1, 0}))

	allowed := map[string]struct{}{"docB": {}}
	hits, err := idx.Search([]float32{1, 0}, 10, allowed)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "docB", hits[0].DocumentID,
		"identical similarity must not leak a document outside the allowed set")
}

func TestFlatIndexPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.idx")

	idx, err := NewFlatIndex(3)
	require.NoError(t, err)
	require.NoError(t, idx.Add("c1", "d1", []float32{0.5, 0.25, -1}))
	require.NoError(t, idx.Add("c2", "d2", []float32{0, 1, 0}))
	require.NoError(t, idx.Persist(path))

	loaded, err := LoadFlatIndex(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count())
	assert.ElementsMatch(t, []string{"c1", "c2"}, loaded.ChunkIDs())

	hits, err := loaded.Search([]float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ChunkID)
}

func TestFlatIndexLoadDimensionMismatchFailsFast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.idx")

	idx, err := NewFlatIndex(3)
	require.NoError(t, err)
	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0, 0}))
	require.NoError(t, idx.Persist(path))

	_, err = LoadFlatIndex(path, 8)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)
}

func TestFlatIndexLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.idx")
	require.NoError(t, os.WriteFile(path, []byte("not an index artifact"), 0644))

	_, err := LoadFlatIndex(path, 3)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)
}

func TestFlatIndexLoadTruncatedBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.idx")

	idx, err := NewFlatIndex(3)
	require.NoError(t, err)
	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0, 0}))
	require.NoError(t, idx.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-5], 0644))

	_, err = LoadFlatIndex(path, 3)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)
}

func TestFlatIndexLoadRejectsAbsurdHeaderCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.idx")

	idx, err := NewFlatIndex(3)
	require.NoError(t, err)
	require.NoError(t, idx.Add("c1", "d1", []float32{1, 0, 0}))
	require.NoError(t, idx.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Overwrite the entry count with a value no artifact of this size
	// can hold; loading must fail instead of allocating for it.
	countOff := len(indexMagic) + 4 + 4 + 4 + len(MetricCosine)
	binary.LittleEndian.PutUint64(data[countOff:], 1<<60)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = LoadFlatIndex(path, 3)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)
}

func TestOpenFlatIndexMissingFileIsEmptyIndex(t *testing.T) {
	idx, err := OpenFlatIndex(filepath.Join(t.TempDir(), "nothing.idx"), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())
}

func TestFlatIndexConcurrentSearchAndDelete(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		docID := "d1"
		if i%2 == 0 {
			docID = "d2"
		}
		require.NoError(t, idx.Add(chunkName(i), docID, []float32{float32(i), 1}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hits, err := idx.Search([]float32{1, 1}, 10, nil)
				assert.NoError(t, err)
				// Deletion is atomic: a search sees d1 entries or none.
				for _, h := range hits {
					assert.NotEmpty(t, h.ChunkID)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		idx.DeleteDocument("d1")
	}()
	wg.Wait()

	hits, err := idx.Search([]float32{1, 1}, 100, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "d2", h.DocumentID)
	}
}

func chunkName(i int) string {
	return "chunk-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}
