package registry

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rewired-gh/pmoforecast/internal/arima"
	"github.com/rewired-gh/pmoforecast/internal/lstm"
	"github.com/rewired-gh/pmoforecast/internal/models"
)

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, models.ErrMissingArtifact)
	}
	return f, err
}

// LoadNeural reopens a network saved in a run directory.
func LoadNeural(dir string) (*lstm.Network, error) {
	f, err := open(filepath.Join(dir, NeuralFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return lstm.Load(f)
}

// LoadStatistical reopens an ARIMA model saved in a run directory.
func LoadStatistical(dir string) (*arima.Model, error) {
	f, err := open(filepath.Join(dir, StatisticalFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m arima.Model
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode statistical model: %w", err)
	}
	return &m, nil
}

// LoadGeneric decodes a gob artifact from a run directory into v.
func LoadGeneric(dir string, v any) error {
	f, err := open(filepath.Join(dir, GenericFile))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode generic model: %w", err)
	}
	return nil
}

// LoadModel reopens the artifact of rec from dir by its framework tag.
// Generic artifacts cannot be decoded without a target type and are rejected.
func LoadModel(rec *models.RunRecord, dir string) (any, error) {
	switch rec.Framework {
	case models.KindNeural.Framework():
		return LoadNeural(dir)
	case models.KindStatistical.Framework():
		return LoadStatistical(dir)
	default:
		return nil, fmt.Errorf("framework %q needs LoadGeneric with a concrete type", rec.Framework)
	}
}
