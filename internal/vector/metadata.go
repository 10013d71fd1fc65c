package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	indexFileName    = "index.bin"
	metadataFileName = "metadata.json"
)

// metadataFile is the JSON companion of an index file.
type metadataFile struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Metric     Metric      `json:"metric"`
	Count      int         `json:"count"`
	Records    []*Metadata `json:"records"`
	// IDs maps positions in an opaque index file to ids.
	IDs []string `json:"ids,omitempty"`
}

// IndexPath returns the index file path inside dir.
func IndexPath(dir string) string { return filepath.Join(dir, indexFileName) }

// MetadataPath returns the metadata file path inside dir.
func MetadataPath(dir string) string { return filepath.Join(dir, metadataFileName) }

func writeMetadataFile(path string, mf *metadataFile) error {
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeFileAtomic(path, data)
}

func readMetadataFile(path string) (*metadataFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf metadataFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}

// writeFileAtomic writes data to a temp file in the target directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
