package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
)

func TestContentModelRoundTrip(t *testing.T) {
	m := trainedContentModel(t)
	path := filepath.Join(t.TempDir(), "content.json")

	if err := m.Save(path, "snap-1"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadContentModel(path, testLogger())
	if err != nil {
		t.Fatalf("LoadContentModel() error = %v", err)
	}
	if !loaded.IsTrained() {
		t.Fatal("loaded model reports untrained")
	}

	want, err := m.SimilarItems(1, 3)
	if err != nil {
		t.Fatalf("SimilarItems() error = %v", err)
	}
	got, err := loaded.SimilarItems(1, 3)
	if err != nil {
		t.Fatalf("SimilarItems() on loaded model error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("neighbor %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCollaborativeModelRoundTrip(t *testing.T) {
	m := trainedCollabModel(t)
	path := filepath.Join(t.TempDir(), "collab.json")

	if err := m.Save(path, "snap-1"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadCollaborativeModel(path, testLogger())
	if err != nil {
		t.Fatalf("LoadCollaborativeModel() error = %v", err)
	}

	want, _ := m.Predict(1, 20)
	got, err := loaded.Predict(1, 20)
	if err != nil {
		t.Fatalf("Predict() on loaded model error = %v", err)
	}
	if got != want {
		t.Errorf("Predict() = %f, want %f", got, want)
	}

	// The rated-item exclusion set must survive the round trip.
	recs, err := loaded.Recommend(2, 10)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	for _, r := range recs {
		if r.ItemID == 10 {
			t.Error("loaded model recommends an already-rated item")
		}
	}
}

func TestSaveUntrainedModel(t *testing.T) {
	m := NewContentBasedModel(DefaultContentConfig(), testLogger())
	err := m.Save(filepath.Join(t.TempDir(), "x.json"), "snap-1")
	if !errors.Is(err, ErrNotTrained) {
		t.Errorf("Save() on untrained model error = %v, want ErrNotTrained", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadContentModel(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	var deser *DeserializationError
	if !errors.As(err, &deser) {
		t.Fatalf("error = %v, want DeserializationError", err)
	}
	if !os.IsNotExist(deser.Err) {
		t.Errorf("wrapped error = %v, want file-not-exist", deser.Err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadContentModel(path, testLogger())
	var deser *DeserializationError
	if !errors.As(err, &deser) {
		t.Fatalf("error = %v, want DeserializationError", err)
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	unit := map[string]any{
		"manifest": Manifest{
			FormatVersion: FormatVersion + 1,
			Model:         "content_based",
			SnapshotID:    "snap-1",
			TrainedAt:     "2026-01-01T00:00:00Z",
		},
		"payload": map[string]any{},
	}
	data, err := json.Marshal(unit)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = LoadContentModel(path, testLogger())
	var deser *DeserializationError
	if !errors.As(err, &deser) {
		t.Fatalf("error = %v, want DeserializationError", err)
	}
}

func TestLoadWrongModelKind(t *testing.T) {
	m := trainedContentModel(t)
	path := filepath.Join(t.TempDir(), "content.json")
	if err := m.Save(path, "snap-1"); err != nil {
		t.Fatal(err)
	}

	_, err := LoadCollaborativeModel(path, testLogger())
	var deser *DeserializationError
	if !errors.As(err, &deser) {
		t.Fatalf("error = %v, want DeserializationError", err)
	}
}

func TestLoadInvalidManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-manifest.json")
	// Manifest is missing required fields and carries an extra one.
	raw := `{"manifest":{"format_version":1,"extra":true},"payload":{}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadContentModel(path, testLogger())
	var deser *DeserializationError
	if !errors.As(err, &deser) {
		t.Fatalf("error = %v, want DeserializationError", err)
	}
}
