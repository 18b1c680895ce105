package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// fileLayout is the on-disk form of a labeled dataset.
// Files ending in .gz or .zst are decompressed transparently.
type fileLayout struct {
	Sentinel *float64             `json:"sentinel,omitempty"`
	Spectra  [][]float64          `json:"spectra"`
	Columns  map[string][]float64 `json:"columns"`
}

// Open reads a dataset file into memory. opts are applied after the
// sentinel recorded in the file, so they take precedence.
func Open(path string, opts ...MemoryStoreOption) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r, closeFn, err := decompressor(path, f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	var layout fileLayout
	if err := sonic.Unmarshal(raw, &layout); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}

	spectra, err := denseFromRows(layout.Spectra)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}

	var fileOpts []MemoryStoreOption
	if layout.Sentinel != nil {
		fileOpts = append(fileOpts, WithSentinel(*layout.Sentinel))
	}

	store, err := NewMemoryStore(spectra, layout.Columns, append(fileOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}

	rows, width := spectra.Dims()
	log.Debug().
		Str("path", path).
		Int("rows", rows).
		Int("width", width).
		Strs("columns", store.Columns()).
		Msg("dataset loaded")

	return store, nil
}

// Save writes the store to path, compressing according to the file extension.
func Save(path string, s *MemoryStore) error {
	rows, _ := s.spectra.Dims()
	layout := fileLayout{
		Sentinel: &s.sentinel,
		Spectra:  make([][]float64, rows),
		Columns:  s.columns,
	}
	for i := range rows {
		layout.Spectra[i] = mat.Row(nil, i, s.spectra)
	}

	raw, err := sonic.Marshal(layout)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	defer f.Close()

	var w io.WriteCloser
	switch {
	case strings.HasSuffix(path, ".gz"):
		w = gzip.NewWriter(f)
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		w = zw
	default:
		w = nopWriteCloser{f}
	}

	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return w.Close()
}

func decompressor(path string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip dataset %s: %w", path, err)
		}
		return gr, func() { _ = gr.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd dataset %s: %w", path, err)
		}
		return zr, zr.Close, nil
	}
	return r, func() {}, nil
}

func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no spectra")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, fmt.Errorf("spectra have zero width")
	}
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("spectrum %d has width %d, want %d", i, len(row), width)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), width, data), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
