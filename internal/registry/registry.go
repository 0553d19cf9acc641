// Package registry persists trained model runs and selects champions.
package registry

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/models"
	"github.com/rewired-gh/pmoforecast/internal/storage"
)

// Artifact file names by kind.
const (
	NeuralFile      = "model.nn.json"
	StatisticalFile = "model.json"
	GenericFile     = "model.gob"
	MetricsFile     = "metrics.json"
	ConfigFile      = "config.json"
)

// NeuralModel is a network that writes its own weight format.
type NeuralModel interface {
	Save(w io.Writer) error
}

// Artifact is a trained model tagged with its persistence kind.
type Artifact struct {
	Kind  models.ArtifactKind
	Model any
}

// Registry keeps run records in registration order and mirrors them to disk
// and to the catalog. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	baseDir string
	store   *storage.Storage
	runs    []*models.RunRecord
	now     func() time.Time
}

// New creates a registry rooted at baseDir. Runs already in store are loaded
// without model handles. store may be nil.
func New(baseDir string, store *storage.Storage) (*Registry, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	r := &Registry{baseDir: baseDir, store: store, now: time.Now}
	if store != nil {
		runs, err := store.ListRuns()
		if err != nil {
			return nil, fmt.Errorf("failed to restore runs: %w", err)
		}
		r.runs = runs
		if len(runs) > 0 {
			logger.Info("Restored %d runs from catalog", len(runs))
		}
	}
	return r, nil
}

// BaseDir returns the directory holding run folders.
func (r *Registry) BaseDir() string {
	return r.baseDir
}

// RegisterOption customizes a registration.
type RegisterOption func(*models.RunRecord)

// WithSessionID tags the run with the pipeline session that produced it.
func WithSessionID(id string) RegisterOption {
	return func(rec *models.RunRecord) { rec.SessionID = id }
}

// Register persists art with its metrics and config under
// {base}/{name}_{runID}. Registering an existing name and run id replaces it.
func (r *Registry) Register(name, runID string, art Artifact, metrics map[string]float64, config map[string]any, opts ...RegisterOption) (*models.RunRecord, error) {
	rec := &models.RunRecord{
		Name:         name,
		RunID:        runID,
		Framework:    art.Kind.Framework(),
		Metrics:      copyMetrics(metrics),
		Config:       copyConfig(config),
		RegisteredAt: r.now(),
		Model:        art.Model,
	}
	rec.Path = filepath.Join(r.baseDir, rec.Dir())
	for _, opt := range opts {
		opt(rec)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(rec.Key())
	if idx >= 0 {
		logger.Warn("Overwriting existing run: %s", rec.Key())
	}

	tmp, err := r.stage(rec, art)
	if err != nil {
		return nil, err
	}
	if err := r.commit(rec, tmp); err != nil {
		return nil, err
	}
	if idx >= 0 {
		r.runs = append(r.runs[:idx], r.runs[idx+1:]...)
	}
	r.runs = append(r.runs, rec)
	r.trimToCatalog()

	logger.Info("Registered %s model: %s", rec.Framework, rec.Key())
	return rec, nil
}

// stage writes the artifact, metrics and config into a hidden directory next
// to rec.Path. Nothing is left behind on failure.
func (r *Registry) stage(rec *models.RunRecord, art Artifact) (string, error) {
	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create runs directory: %w", err)
	}
	tmp, err := os.MkdirTemp(r.baseDir, "."+rec.Dir()+".tmp-")
	if err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	fail := func(err error) (string, error) {
		_ = os.RemoveAll(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return fail(fmt.Errorf("failed to create run directory: %w", err))
	}

	modelFile, err := saveArtifact(tmp, art)
	if err != nil {
		return fail(fmt.Errorf("failed to save %s artifact: %w", art.Kind, err))
	}
	rec.ModelFile = modelFile

	if err := writeJSON(filepath.Join(tmp, MetricsFile), rec.Metrics); err != nil {
		return fail(err)
	}
	if err := writeJSON(filepath.Join(tmp, ConfigFile), rec.Config); err != nil {
		return fail(err)
	}
	return tmp, nil
}

// commit swaps the staged directory into rec.Path and saves the catalog row.
// Any previous directory is restored if either step fails.
func (r *Registry) commit(rec *models.RunRecord, tmp string) error {
	var backup string
	if _, err := os.Stat(rec.Path); err == nil {
		backup = tmp + ".old"
		if err := os.Rename(rec.Path, backup); err != nil {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("failed to move previous run aside: %w", err)
		}
	}
	restore := func() {
		if backup != "" {
			if err := os.Rename(backup, rec.Path); err != nil {
				logger.Error("Failed to restore previous run %s: %v", rec.Key(), err)
			}
		}
	}

	if err := os.Rename(tmp, rec.Path); err != nil {
		_ = os.RemoveAll(tmp)
		restore()
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if r.store != nil {
		if err := r.store.SaveRun(rec); err != nil {
			_ = os.RemoveAll(rec.Path)
			restore()
			return err
		}
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			logger.Warn("Failed to remove previous run files %s: %v", backup, err)
		}
	}
	return nil
}

func saveArtifact(dir string, art Artifact) (string, error) {
	switch art.Kind {
	case models.KindNeural:
		nm, ok := art.Model.(NeuralModel)
		if !ok {
			return "", fmt.Errorf("neural artifact %T has no native save", art.Model)
		}
		return NeuralFile, writeFile(filepath.Join(dir, NeuralFile), nm.Save)
	case models.KindStatistical:
		return StatisticalFile, writeJSON(filepath.Join(dir, StatisticalFile), art.Model)
	default:
		return GenericFile, writeFile(filepath.Join(dir, GenericFile), func(w io.Writer) error {
			return gob.NewEncoder(w).Encode(art.Model)
		})
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// trimToCatalog forgets the oldest runs the catalog cap has pruned. Their
// directories stay on disk. Must be called with mu held.
func (r *Registry) trimToCatalog() {
	if r.store == nil {
		return
	}
	limit := r.store.MaxRuns()
	if limit <= 0 || len(r.runs) <= limit {
		return
	}
	dropped := len(r.runs) - limit
	for _, old := range r.runs[:dropped] {
		logger.Info("Run %s pruned from catalog; files kept at %s", old.Key(), old.Path)
	}
	r.runs = append([]*models.RunRecord(nil), r.runs[dropped:]...)
}

// indexOf must be called with mu held.
func (r *Registry) indexOf(key string) int {
	for i, rec := range r.runs {
		if rec.Key() == key {
			return i
		}
	}
	return -1
}

// latest must be called with mu held.
func (r *Registry) latest(name string) (*models.RunRecord, error) {
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].Name == name {
			return r.runs[i], nil
		}
	}
	return nil, fmt.Errorf("model %q: %w", name, models.ErrNotFound)
}

// Runs returns a snapshot of every run in registration order.
func (r *Registry) Runs() []*models.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.RunRecord(nil), r.runs...)
}

// Get returns the most recently registered run of name.
func (r *Registry) Get(name string) (*models.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest(name)
}

// GetRun returns the run with the exact name and run id.
func (r *Registry) GetRun(name, runID string) (*models.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexOf(models.RunKey(name, runID)); idx >= 0 {
		return r.runs[idx], nil
	}
	return nil, fmt.Errorf("run %s: %w", models.RunKey(name, runID), models.ErrNotFound)
}

// GetMetrics returns a copy of the latest run's metrics.
func (r *Registry) GetMetrics(name string) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := r.latest(name)
	if err != nil {
		return nil, err
	}
	return copyMetrics(rec.Metrics), nil
}

// GetMetadata returns the latest run's config together with its identity
// fields.
func (r *Registry) GetMetadata(name string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := r.latest(name)
	if err != nil {
		return nil, err
	}
	meta := copyConfig(rec.Config)
	meta["name"] = rec.Name
	meta["run_id"] = rec.RunID
	meta["framework"] = rec.Framework
	meta["path"] = rec.Path
	meta["model_file"] = rec.ModelFile
	if rec.SessionID != "" {
		meta["session_id"] = rec.SessionID
	}
	return meta, nil
}

// UpdateMetrics merges metrics into the latest run of name and rewrites its
// metrics side-car.
func (r *Registry) UpdateMetrics(name string, metrics map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.latest(name)
	if err != nil {
		return err
	}
	merged := copyMetrics(rec.Metrics)
	for k, v := range metrics {
		merged[k] = v
	}
	if err := writeJSON(filepath.Join(rec.Path, MetricsFile), merged); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.UpdateRunMetrics(rec.Name, rec.RunID, merged); err != nil {
			return err
		}
	}
	updated := *rec
	updated.Metrics = merged
	r.runs[r.indexOf(rec.Key())] = &updated
	logger.Info("Metrics updated for model: %s", rec.Key())
	return nil
}

// GetBest returns the run with the lowest (minimize) or highest metric value.
// Ties keep the earlier registration.
func (r *Registry) GetBest(metric string, minimize bool) (*models.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.runs) == 0 {
		return nil, fmt.Errorf("no runs registered: %w", models.ErrEmpty)
	}
	var best *models.RunRecord
	var bestVal float64
	for _, rec := range r.runs {
		v, ok := rec.Metrics[metric]
		if !ok {
			continue
		}
		if best == nil || (minimize && v < bestVal) || (!minimize && v > bestVal) {
			best, bestVal = rec, v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no runs carry metric %q: %w", metric, models.ErrEmpty)
	}
	logger.Info("Best model by %s: %s (%.4f)", metric, best.Key(), bestVal)
	return best, nil
}

// SummaryRow is one tabular registry entry.
type SummaryRow struct {
	Name      string             `json:"name"`
	RunID     string             `json:"run_id"`
	Framework string             `json:"framework"`
	Path      string             `json:"path"`
	ModelFile string             `json:"model_file"`
	Config    map[string]any     `json:"config"`
	Metrics   map[string]float64 `json:"metrics"`
	// Columns holds every field above with metrics flattened to top level.
	Columns map[string]any `json:"-"`
}

// Summary returns one row per run in registration order.
func (r *Registry) Summary() []SummaryRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]SummaryRow, 0, len(r.runs))
	for _, rec := range r.runs {
		row := SummaryRow{
			Name:      rec.Name,
			RunID:     rec.RunID,
			Framework: rec.Framework,
			Path:      rec.Path,
			ModelFile: filepath.Join(rec.Path, rec.ModelFile),
			Config:    copyConfig(rec.Config),
			Metrics:   copyMetrics(rec.Metrics),
		}
		row.Columns = map[string]any{
			"name":       row.Name,
			"run_id":     row.RunID,
			"framework":  row.Framework,
			"path":       row.Path,
			"model_file": row.ModelFile,
			"config":     row.Config,
			"metrics":    row.Metrics,
		}
		for k, v := range row.Metrics {
			row.Columns[k] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// ReadMetrics loads a metrics side-car from a run directory.
func ReadMetrics(dir string) (map[string]float64, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetricsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, models.ErrMissingArtifact)
		}
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	return m, nil
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
