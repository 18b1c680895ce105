package oracle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/blackbox/internal/normalization"
)

// Files making up a saved model directory.
const (
	IdentifierFile   = "identifier"
	TargetsFile      = "targetname.json"
	LabelStatsFile   = "meanstd.json"
	FeatureStatsFile = "spectra_meanstd.json"
	WeightsFile      = "weights.json"
)

var ErrNotModelDir = errors.New("not a model directory")

// Bundle is everything loaded from a model directory except the weights.
type Bundle struct {
	Dir     string
	Kind    ModelKind
	Targets []string
	Stats   normalization.Stats
}

// LoadBundle reads the identifier, target names and normalization statistics from dir.
func LoadBundle(dir string) (*Bundle, error) {
	tag, err := os.ReadFile(filepath.Join(dir, IdentifierFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrNotModelDir, dir, IdentifierFile)
		}
		return nil, fmt.Errorf("read identifier: %w", err)
	}

	kind, err := ParseKind(string(tag))
	if err != nil {
		return nil, err
	}

	b := &Bundle{Dir: dir, Kind: kind}
	if err := readJSON(filepath.Join(dir, TargetsFile), &b.Targets); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, LabelStatsFile), &b.Stats.Label); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, FeatureStatsFile), &b.Stats.Feature); err != nil {
		return nil, err
	}

	if len(b.Targets) == 0 {
		return nil, &normalization.ConfigMismatchError{Field: "targets", Want: "at least one", Got: 0}
	}
	if len(b.Stats.Label.Mean) != len(b.Targets) {
		return nil, &normalization.ConfigMismatchError{Field: "label.mean", Want: len(b.Targets), Got: len(b.Stats.Label.Mean)}
	}

	log.Info().
		Str("dir", dir).
		Str("kind", kind.String()).
		Strs("targets", b.Targets).
		Int("width", len(b.Stats.Feature.Mean)).
		Msg("loaded model bundle")

	return b, nil
}

// Save writes the bundle metadata into b.Dir.
func (b *Bundle) Save() error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.Dir, IdentifierFile), []byte(b.Kind.Tag()), 0o644); err != nil {
		return fmt.Errorf("write identifier: %w", err)
	}
	if err := writeJSON(filepath.Join(b.Dir, TargetsFile), b.Targets); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(b.Dir, LabelStatsFile), b.Stats.Label); err != nil {
		return err
	}
	return writeJSON(filepath.Join(b.Dir, FeatureStatsFile), b.Stats.Feature)
}

// Width is the number of features the model was trained on.
func (b *Bundle) Width() int {
	return len(b.Stats.Feature.Mean)
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
