package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// RunIDLayout formats run identifiers from the orchestration wall clock.
const RunIDLayout = "20060102_150405"

var runIDPattern = regexp.MustCompile(`^\d{8}_\d{6}$`)

// NewRunID derives a run identifier (YYYYMMDD_HHMMSS) from t.
func NewRunID(t time.Time) string {
	return t.Format(RunIDLayout)
}

// ArtifactKind selects how a trained model is persisted.
type ArtifactKind int

const (
	// KindGeneric models are serialized with encoding/gob.
	KindGeneric ArtifactKind = iota
	// KindStatistical models are serialized as JSON parameters.
	KindStatistical
	// KindNeural models use the network's native weight format.
	KindNeural
)

// Framework returns the registry framework tag for the kind.
func (k ArtifactKind) Framework() string {
	switch k {
	case KindStatistical:
		return "statistical"
	case KindNeural:
		return "neural"
	default:
		return "generic"
	}
}

func (k ArtifactKind) String() string { return k.Framework() }

// RunRecord is one registry entry. Records are replaced, never mutated in place.
type RunRecord struct {
	Name         string             `json:"name"`
	RunID        string             `json:"run_id"`
	SessionID    string             `json:"session_id,omitempty"`
	Framework    string             `json:"framework"`
	Path         string             `json:"path"`
	ModelFile    string             `json:"model_file"`
	Metrics      map[string]float64 `json:"metrics"`
	Config       map[string]any     `json:"config"`
	RegisteredAt time.Time          `json:"registered_at"`

	// Model is the optional in-memory handle; nil for records restored from disk.
	Model any `json:"-"`
}

// Key returns the unique registry key for the record.
func (r *RunRecord) Key() string {
	return RunKey(r.Name, r.RunID)
}

// Dir returns the run directory name, "{name}_{run_id}".
func (r *RunRecord) Dir() string {
	return fmt.Sprintf("%s_%s", r.Name, r.RunID)
}

// RunKey builds the registry key for a name and run id.
func RunKey(name, runID string) string {
	return name + "::" + runID
}

// Validate checks record field constraints.
func (r *RunRecord) Validate() error {
	if r.Name == "" {
		return errors.New("run name must not be empty")
	}
	if !runIDPattern.MatchString(r.RunID) {
		return fmt.Errorf("run id %q must match YYYYMMDD_HHMMSS", r.RunID)
	}
	if r.Path == "" {
		return errors.New("run path must not be empty")
	}
	return nil
}

// Promotion records one champion selection.
type Promotion struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RunID       string    `json:"run_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	ChampionDir string    `json:"champion_dir"`
	PromotedAt  time.Time `json:"promoted_at"`
}
