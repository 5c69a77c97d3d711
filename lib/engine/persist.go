package engine

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// FormatVersion tags every persisted model unit. Loading a unit with a
// different version fails explicitly.
const FormatVersion = 1

// manifestSchema validates the self-describing header of a persisted
// model unit before any payload is decoded.
const manifestSchema = `{
	"type": "object",
	"properties": {
		"format_version": {"type": "integer", "minimum": 1},
		"model": {"type": "string", "enum": ["content_based", "collaborative"]},
		"snapshot_id": {"type": "string", "minLength": 1},
		"trained_at": {"type": "string", "minLength": 1}
	},
	"required": ["format_version", "model", "snapshot_id", "trained_at"],
	"additionalProperties": false
}`

// Manifest describes a persisted model unit.
type Manifest struct {
	FormatVersion int    `json:"format_version"`
	Model         string `json:"model"`
	SnapshotID    string `json:"snapshot_id"`
	TrainedAt     string `json:"trained_at"`
}

// envelope is the on-disk layout: manifest first, payload second, one
// unit per model.
type envelope struct {
	Manifest Manifest        `json:"manifest"`
	Payload  json.RawMessage `json:"payload"`
}

// contentState is the serialized form of a trained content model:
// feature vectors, similarity index and the normalization bounds that
// produced them, persisted together as one versioned unit.
type contentState struct {
	Config  ContentConfig         `json:"config"`
	Prep    Preprocessor          `json:"preprocessor"`
	Vectors map[int]FeatureVector `json:"vectors"`
	Index   map[int][]ScoredItem  `json:"index"`
	ItemIDs []int                 `json:"item_ids"`
}

// collaborativeState is the serialized form of trained latent factors.
type collaborativeState struct {
	Config      CollaborativeConfig `json:"config"`
	UserIndex   map[int]int         `json:"user_index"`
	ItemIndex   map[int]int         `json:"item_index"`
	IndexToItem []int               `json:"index_to_item"`
	UserFactors [][]float64         `json:"user_factors"`
	ItemFactors [][]float64         `json:"item_factors"`
	UserRated   map[int][]int       `json:"user_rated"`
}

// Save writes the trained content model as one versioned unit.
func (m *ContentBasedModel) Save(path, snapshotID string) error {
	if !m.trained {
		return ErrNotTrained
	}
	state := contentState{
		Config:  m.cfg,
		Prep:    m.prep,
		Vectors: m.vectors,
		Index:   m.index,
		ItemIDs: m.itemIDs,
	}
	return writeUnit(path, m.Name(), snapshotID, state)
}

// Save writes the trained collaborative model as one versioned unit.
func (m *CollaborativeModel) Save(path, snapshotID string) error {
	if !m.trained {
		return ErrNotTrained
	}
	rated := make(map[int][]int, len(m.userRated))
	for userID, set := range m.userRated {
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		rated[userID] = ids
	}
	state := collaborativeState{
		Config:      m.cfg,
		UserIndex:   m.userIndex,
		ItemIndex:   m.itemIndex,
		IndexToItem: m.indexToItem,
		UserFactors: m.userFactors,
		ItemFactors: m.itemFactors,
		UserRated:   rated,
	}
	return writeUnit(path, m.Name(), snapshotID, state)
}

// LoadContentModel restores a content model from a persisted unit.
// Corrupt or version-mismatched units fail with DeserializationError;
// no partially initialized model is returned.
func LoadContentModel(path string, logger *slog.Logger) (*ContentBasedModel, error) {
	var state contentState
	if err := readUnit(path, "content_based", &state); err != nil {
		return nil, err
	}
	if len(state.Vectors) == 0 || len(state.Index) == 0 {
		return nil, &DeserializationError{Path: path, Reason: "empty trained state"}
	}

	m := NewContentBasedModel(state.Config, logger)
	m.prep = state.Prep
	m.vectors = state.Vectors
	m.index = state.Index
	m.itemIDs = state.ItemIDs
	m.trained = true
	return m, nil
}

// LoadCollaborativeModel restores a collaborative model from a
// persisted unit.
func LoadCollaborativeModel(path string, logger *slog.Logger) (*CollaborativeModel, error) {
	var state collaborativeState
	if err := readUnit(path, "collaborative", &state); err != nil {
		return nil, err
	}
	if len(state.UserFactors) == 0 || len(state.ItemFactors) == 0 {
		return nil, &DeserializationError{Path: path, Reason: "empty trained state"}
	}

	m := NewCollaborativeModel(state.Config, logger)
	m.userIndex = state.UserIndex
	m.itemIndex = state.ItemIndex
	m.indexToItem = state.IndexToItem
	m.userFactors = state.UserFactors
	m.itemFactors = state.ItemFactors
	m.userRated = make(map[int]map[int]struct{}, len(state.UserRated))
	for userID, ids := range state.UserRated {
		set := make(map[int]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		m.userRated[userID] = set
	}
	m.trained = true
	return m, nil
}

// writeUnit serializes manifest and payload to a temp file and renames
// it into place so readers never observe a half-written unit.
func writeUnit(path, model, snapshotID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", model, err)
	}

	unit := envelope{
		Manifest: Manifest{
			FormatVersion: FormatVersion,
			Model:         model,
			SnapshotID:    snapshotID,
			TrainedAt:     time.Now().UTC().Format(time.RFC3339),
		},
		Payload: raw,
	}

	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to encode %s unit: %w", model, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write model unit: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace model unit: %w", err)
	}
	return nil
}

// readUnit reads and validates a persisted unit, decoding its payload
// into out. Every failure mode maps to DeserializationError.
func readUnit(path, wantModel string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &DeserializationError{Path: path, Reason: "unreadable file", Err: err}
	}

	var unit struct {
		Manifest json.RawMessage `json:"manifest"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &unit); err != nil {
		return &DeserializationError{Path: path, Reason: "corrupt envelope", Err: err}
	}
	if len(unit.Manifest) == 0 {
		return &DeserializationError{Path: path, Reason: "missing manifest"}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(manifestSchema),
		gojsonschema.NewBytesLoader(unit.Manifest),
	)
	if err != nil {
		return &DeserializationError{Path: path, Reason: "manifest validation failed", Err: err}
	}
	if !result.Valid() {
		return &DeserializationError{Path: path, Reason: fmt.Sprintf("invalid manifest: %v", result.Errors())}
	}

	var manifest Manifest
	if err := json.Unmarshal(unit.Manifest, &manifest); err != nil {
		return &DeserializationError{Path: path, Reason: "corrupt manifest", Err: err}
	}
	if manifest.FormatVersion != FormatVersion {
		return &DeserializationError{
			Path:   path,
			Reason: fmt.Sprintf("format version %d is not supported (want %d)", manifest.FormatVersion, FormatVersion),
		}
	}
	if manifest.Model != wantModel {
		return &DeserializationError{
			Path:   path,
			Reason: fmt.Sprintf("unit holds a %q model, expected %q", manifest.Model, wantModel),
		}
	}

	if err := json.Unmarshal(unit.Payload, out); err != nil {
		return &DeserializationError{Path: path, Reason: "corrupt payload", Err: err}
	}
	return nil
}
