package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// indexMagic prefixes files written by MemoryIndex.Save.
const indexMagic = "BVX1"

// MemoryIndex is an in-memory vector index using brute-force inner product search.
// Vectors are expected to be L2-normalized so inner product equals cosine.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	meta       []Metadata
	pos        map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Upsert inserts new IDs and overwrites existing ones in place.
func (m *MemoryIndex) Upsert(ctx context.Context, items []Item) error {
	for _, it := range items {
		if len(it.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", it.ID, len(it.Vector), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		vec := append([]float32(nil), it.Vector...)
		meta := copyMeta(it.Metadata)
		if i, ok := m.pos[it.ID]; ok {
			m.vectors[i] = vec
			m.meta[i] = meta
			continue
		}
		m.pos[it.ID] = len(m.ids)
		m.ids = append(m.ids, it.ID)
		m.vectors = append(m.vectors, vec)
		m.meta = append(m.meta, meta)
	}
	return nil
}

// Update replaces the vector of an existing ID. A nil meta keeps the old metadata.
func (m *MemoryIndex) Update(ctx context.Context, id string, vec []float32, meta Metadata) error {
	if len(vec) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), m.dimensions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.pos[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.vectors[i] = append([]float32(nil), vec...)
	if meta != nil {
		m.meta[i] = copyMeta(meta)
	}
	return nil
}

// Query returns the top-k vectors by inner product among those matching filter.
func (m *MemoryIndex) Query(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	scores := make([]*VectorResult, 0, len(m.ids))
	for i, vec := range m.vectors {
		if !filter.match(m.ids[i], m.meta[i]) {
			continue
		}
		var dot float64
		for j := 0; j < m.dimensions; j++ {
			dot += float64(query[j]) * float64(vec[j])
		}
		scores = append(scores, &VectorResult{ID: m.ids[i], Score: dot, Metadata: copyMeta(m.meta[i])})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Delete removes vectors by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := make([]string, 0, len(m.ids))
	newVectors := make([][]float32, 0, len(m.vectors))
	newMeta := make([]Metadata, 0, len(m.meta))
	for i, id := range m.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, m.vectors[i])
			newMeta = append(newMeta, m.meta[i])
		}
	}
	m.ids, m.vectors, m.meta = newIDs, newVectors, newMeta
	m.reindex()
	return nil
}

func (m *MemoryIndex) reindex() {
	m.pos = make(map[string]int, len(m.ids))
	for i, id := range m.ids {
		m.pos[id] = i
	}
}

// Save persists the index to path. Directory is created if needed. Format: magic (4),
// dimension (4), n (4), then per vector: idLen (4), id, metaLen (4), metadata JSON,
// vector (dimension*4 bytes).
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	// Written to a sibling temp file, then renamed over path.
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := m.writeTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) writeTo(f io.Writer) error {
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(indexMagic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(m.dimensions), uint32(len(m.ids))}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, id := range m.ids {
		metaBytes, err := json.Marshal(m.meta[i])
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", id, err)
		}
		if err := writeBytes(w, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := writeBytes(w, metaBytes); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return w.Flush()
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != indexMagic {
		return fmt.Errorf("not a vector index file: %s", path)
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if int(header[0]) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", header[0], m.dimensions)
	}
	n := int(header[1])
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	metas := make([]Metadata, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := 0; i < n; i++ {
		idBytes, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		metaBytes, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		var meta Metadata
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		metas = append(metas, meta)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids, m.vectors, m.meta = ids, vectors, metas
	m.reindex()
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	return b, err
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

func copyMeta(m Metadata) Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
