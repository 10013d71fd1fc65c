package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hyperjump/tanya/internal/models"
)

var indexMagic = [4]byte{'T', 'N', 'Y', 'I'}

// maxIDLen bounds id lengths read from disk so a corrupt header cannot force a huge allocation.
const maxIDLen = 1 << 16

func metricCode(m Metric) byte {
	switch m {
	case MetricL2:
		return 1
	case MetricCosine:
		return 2
	case MetricInnerProduct:
		return 3
	default:
		return 0
	}
}

func metricFromCode(c byte) (Metric, bool) {
	switch c {
	case 1:
		return MetricL2, true
	case 2:
		return MetricCosine, true
	case 3:
		return MetricInnerProduct, true
	default:
		return "", false
	}
}

// Save writes index.bin and metadata.json into dir. Each file is replaced atomically.
func (f *FlatIndex) Save(dir string) error {
	f.mu.RLock()
	var buf bytes.Buffer
	buf.Write(indexMagic[:])
	buf.WriteByte(metricCode(f.metric))
	binary.Write(&buf, binary.LittleEndian, uint32(f.dimensions))
	binary.Write(&buf, binary.LittleEndian, uint32(len(f.ids)))
	for i, id := range f.ids {
		binary.Write(&buf, binary.LittleEndian, uint32(len(id)))
		buf.WriteString(id)
		binary.Write(&buf, binary.LittleEndian, f.vectors[i])
	}
	records := make([]*Metadata, 0, len(f.meta))
	for _, id := range f.ids {
		if m, ok := f.meta[id]; ok {
			records = append(records, m)
		}
	}
	mf := &metadataFile{
		Model:      f.model,
		Dimensions: f.dimensions,
		Metric:     f.metric,
		Count:      len(f.ids),
		Records:    records,
	}
	f.mu.RUnlock()

	if err := writeFileAtomic(IndexPath(dir), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	if err := writeMetadataFile(MetadataPath(dir), mf); err != nil {
		return fmt.Errorf("failed to save index metadata: %w", err)
	}
	return nil
}

// Load replaces the index contents with the files in dir. A missing index file is not an error
// and leaves the index unchanged. A corrupt file, or a dimension, metric or model that does not
// match this index, returns models.ErrIndex. A metadata file with fewer or more records than
// index entries is loaded anyway and shows up in Integrity.
func (f *FlatIndex) Load(dir string) error {
	file, err := os.Open(IndexPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	metric, ids, vectors, err := readIndex(r, f.dimensions)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrIndex, IndexPath(dir), err)
	}
	if metric != f.metric {
		return fmt.Errorf("%w: index metric %s does not match configured metric %s", models.ErrIndex, metric, f.metric)
	}

	meta := make(map[string]*Metadata)
	mf, err := readMetadataFile(MetadataPath(dir))
	switch {
	case err == nil:
		if mf.Dimensions != 0 && mf.Dimensions != f.dimensions {
			return fmt.Errorf("%w: metadata dimension %d does not match index dimension %d", models.ErrIndex, mf.Dimensions, f.dimensions)
		}
		if mf.Model != "" && f.model != "" && mf.Model != f.model {
			return fmt.Errorf("%w: index was built with model %q, configured model is %q", models.ErrIndex, mf.Model, f.model)
		}
		for _, rec := range mf.Records {
			if rec != nil && rec.ID != "" {
				meta[rec.ID] = rec
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("%w: failed to read metadata: %w", models.ErrIndex, err)
	}

	positions := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := positions[id]; dup {
			return fmt.Errorf("%w: duplicate id %q in index file", models.ErrIndex, id)
		}
		positions[id] = i
	}
	// metadata for ids the index does not hold is still counted as drift
	f.mu.Lock()
	f.ids = ids
	f.vectors = vectors
	f.positions = positions
	f.meta = meta
	f.mu.Unlock()
	return nil
}

func readIndex(r io.Reader, dimensions int) (Metric, []string, [][]float32, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return "", nil, nil, fmt.Errorf("read header: %w", err)
	}
	if magic != indexMagic {
		return "", nil, nil, fmt.Errorf("bad magic %q", magic[:])
	}
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return "", nil, nil, fmt.Errorf("read metric: %w", err)
	}
	metric, ok := metricFromCode(code[0])
	if !ok {
		return "", nil, nil, fmt.Errorf("unknown metric code %d", code[0])
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return "", nil, nil, fmt.Errorf("read dimension: %w", err)
	}
	if int(dim) != dimensions {
		return "", nil, nil, fmt.Errorf("dimension mismatch: file has %d, expected %d", dim, dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", nil, nil, fmt.Errorf("read count: %w", err)
	}
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return "", nil, nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		if idLen == 0 || idLen > maxIDLen {
			return "", nil, nil, fmt.Errorf("entry %d: invalid id length %d", i, idLen)
		}
		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return "", nil, nil, fmt.Errorf("read entry %d id: %w", i, err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return "", nil, nil, fmt.Errorf("read entry %d vector: %w", i, err)
		}
		for _, v := range vec {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return "", nil, nil, fmt.Errorf("entry %d: non-finite vector component", i)
			}
		}
		ids = append(ids, string(idBuf))
		vectors = append(vectors, vec)
	}
	return metric, ids, vectors, nil
}
