package registry

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rewired-gh/pmoforecast/internal/logger"
	"github.com/rewired-gh/pmoforecast/internal/models"
)

// Notifier is told about each promotion.
type Notifier interface {
	NotifyChampion(p models.Promotion, rec *models.RunRecord) error
}

// Comparator ranks registered runs by one metric and promotes the winner into
// ChampionDir.
type Comparator struct {
	Metric      string
	Minimize    bool
	ChampionDir string
	Notifier    Notifier
}

// Compare returns the summary rows that carry the metric, best first.
func (c *Comparator) Compare(reg *Registry) ([]SummaryRow, error) {
	rows := reg.Summary()
	if len(rows) == 0 {
		return nil, fmt.Errorf("no models available in registry: %w", models.ErrEmpty)
	}
	scored := rows[:0]
	for _, row := range rows {
		if _, ok := row.Metrics[c.Metric]; ok {
			scored = append(scored, row)
		}
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("metric %q not found in any run: %w", c.Metric, models.ErrEmpty)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i].Metrics[c.Metric], scored[j].Metrics[c.Metric]
		if c.Minimize {
			return a < b
		}
		return a > b
	})
	return scored, nil
}

// SelectBest returns the run at the top of Compare.
func (c *Comparator) SelectBest(reg *Registry) (*models.RunRecord, error) {
	rows, err := c.Compare(reg)
	if err != nil {
		return nil, err
	}
	return reg.GetRun(rows[0].Name, rows[0].RunID)
}

// Promote copies the run directory of rec into ChampionDir/{name}_{runID},
// replacing whatever champion was there before, and records the promotion.
func (c *Comparator) Promote(reg *Registry, rec *models.RunRecord) (*models.Promotion, error) {
	info, err := os.Stat(rec.Path)
	if err != nil || !info.IsDir() {
		logger.Error("Source not found: %s", rec.Path)
		return nil, fmt.Errorf("registered path %s: %w", rec.Path, models.ErrMissingArtifact)
	}
	if rec.ModelFile != "" {
		modelPath := filepath.Join(rec.Path, rec.ModelFile)
		if _, err := os.Stat(modelPath); err != nil {
			logger.Error("Model file not found: %s", modelPath)
			return nil, fmt.Errorf("model file %s: %w", modelPath, models.ErrMissingArtifact)
		}
	}

	if err := c.replaceChampion(rec); err != nil {
		return nil, err
	}
	dest := filepath.Join(c.ChampionDir, rec.Dir())

	p := &models.Promotion{
		Name:        rec.Name,
		RunID:       rec.RunID,
		Metric:      c.Metric,
		Value:       rec.Metrics[c.Metric],
		ChampionDir: dest,
		PromotedAt:  time.Now(),
	}
	if reg.store != nil {
		if err := reg.store.AddPromotion(p); err != nil {
			return nil, err
		}
	}
	logger.Info("Promoted %s to champion (%s=%.4f)", rec.Key(), c.Metric, p.Value)

	if c.Notifier != nil {
		if err := c.Notifier.NotifyChampion(*p, rec); err != nil {
			logger.Warn("Failed to send champion notification: %v", err)
		}
	}
	return p, nil
}

// SelectAndPromote selects the best run and promotes it.
func (c *Comparator) SelectAndPromote(reg *Registry) (*models.RunRecord, *models.Promotion, error) {
	rec, err := c.SelectBest(reg)
	if err != nil {
		return nil, nil, err
	}
	p, err := c.Promote(reg, rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, p, nil
}

// replaceChampion copies rec into a sibling of ChampionDir and swaps it in
// once the copy is complete. The previous champion survives a failed copy.
func (c *Comparator) replaceChampion(rec *models.RunRecord) error {
	parent := filepath.Dir(c.ChampionDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create champion parent directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(c.ChampionDir)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to stage champion: %w", err)
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to stage champion: %w", err)
	}
	if err := copyTree(rec.Path, filepath.Join(tmp, rec.Dir())); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("failed to copy champion: %w", err)
	}

	var backup string
	if _, err := os.Stat(c.ChampionDir); err == nil {
		backup = tmp + ".old"
		if err := os.Rename(c.ChampionDir, backup); err != nil {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("failed to move previous champion aside: %w", err)
		}
	}
	if err := os.Rename(tmp, c.ChampionDir); err != nil {
		_ = os.RemoveAll(tmp)
		if backup != "" {
			_ = os.Rename(backup, c.ChampionDir)
		}
		return fmt.Errorf("failed to install champion: %w", err)
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			logger.Warn("Failed to remove previous champion %s: %v", backup, err)
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return errors.New("unsupported file type: " + path)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
