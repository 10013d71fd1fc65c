package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
)

func TestFlatIndex_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	idx, _ := NewFlatCosine(3, "model-a")
	ids := []string{"d#0", "d#1"}
	if err := idx.Add(ctx, ids, [][]float32{{1, 0, 0}, {0, 1, 0}}, meta(ids...)); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewFlatCosine(3, "model-a")
	if err := loaded.Load(dir); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("Size=%d, want 2", loaded.Size())
	}
	results, err := loaded.Search(ctx, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].ID != "d#1" {
		t.Errorf("top=%s, want d#1", results[0].ID)
	}
	got, _ := loaded.Get(ctx, []string{"d#0"})
	if got[0] == nil || got[0].Text != "text d#0" {
		t.Errorf("metadata not restored: %+v", got[0])
	}
	if loaded.Integrity().Drifted() {
		t.Error("unexpected drift after round trip")
	}
}

func TestFlatIndex_LoadMissingIsNoop(t *testing.T) {
	idx, _ := NewFlatL2(2, "")
	_ = idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 1}}, nil)
	if err := idx.Load(t.TempDir()); err != nil {
		t.Fatalf("Load of empty dir: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("index changed by missing file: size %d", idx.Size())
	}
}

func TestFlatIndex_LoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	idx, _ := NewFlatL2(3, "")
	_ = idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 2, 3}}, nil)
	if err := idx.Save(dir); err != nil {
		t.Fatal(err)
	}
	other, _ := NewFlatL2(4, "")
	err := other.Load(dir)
	if !errors.Is(err, models.ErrIndex) {
		t.Errorf("err=%v, want ErrIndex", err)
	}
}

func TestFlatIndex_LoadMetricMismatch(t *testing.T) {
	dir := t.TempDir()
	idx, _ := NewFlatL2(2, "")
	_ = idx.Save(dir)
	other, _ := NewFlatCosine(2, "")
	if err := other.Load(dir); !errors.Is(err, models.ErrIndex) {
		t.Errorf("err=%v, want ErrIndex", err)
	}
}

func TestFlatIndex_LoadModelMismatch(t *testing.T) {
	dir := t.TempDir()
	idx, _ := NewFlatL2(2, "model-a")
	_ = idx.Save(dir)
	other, _ := NewFlatL2(2, "model-b")
	if err := other.Load(dir); !errors.Is(err, models.ErrIndex) {
		t.Errorf("err=%v, want ErrIndex", err)
	}
}

func TestFlatIndex_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(IndexPath(dir), []byte("TNYI\x01\x02"), 0644); err != nil {
		t.Fatal(err)
	}
	idx, _ := NewFlatL2(2, "")
	if err := idx.Load(dir); !errors.Is(err, models.ErrIndex) {
		t.Errorf("err=%v, want ErrIndex", err)
	}
	if err := os.WriteFile(IndexPath(dir), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Load(dir); !errors.Is(err, models.ErrIndex) {
		t.Errorf("bad magic err=%v, want ErrIndex", err)
	}
}

// Ten index entries but only eight metadata records load, and the drift is reported.
func TestFlatIndex_LoadCountDrift(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	idx, _ := NewFlatL2(2, "")
	ids := make([]string, 10)
	vecs := make([][]float32, 10)
	md := make([]*Metadata, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
		vecs[i] = []float32{float32(i), 0}
		if i < 8 {
			md[i] = &Metadata{Text: ids[i]}
		}
	}
	if err := idx.Add(ctx, ids, vecs, md); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewFlatL2(2, "")
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("drift must not be fatal: %v", err)
	}
	in := loaded.Integrity()
	if in.IndexEntries != 10 || in.MetadataRecords != 8 || !in.Drifted() {
		t.Errorf("Integrity=%+v", in)
	}
	got, _ := loaded.Get(ctx, []string{"c9"})
	if got[0] != nil {
		t.Errorf("c9 should have no metadata, got %+v", got[0])
	}
}

func TestOpen_LoadsPersistedFlatIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	idx, _ := NewFlatL2(2, "m")
	_ = idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}}, nil)
	_ = idx.Save(dir)

	opened, err := Open(ctx, Options{Backend: BackendFlat, Metric: MetricL2, Dimensions: 2, Model: "m", Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer opened.Close()
	if opened.Size() != 1 {
		t.Errorf("Size=%d, want 1", opened.Size())
	}
}
