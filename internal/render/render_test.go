package render

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/blackbox"
)

func testFigure() blackbox.Figure {
	segs := blackbox.Segments{
		{Name: "blue", Start: 0, End: 6, LambdaStart: 15146, LambdaEnd: 15151},
		{Name: "green", Start: 6, End: 10, LambdaStart: 15961, LambdaEnd: 15964},
		{Name: "red", Start: 10, End: 11, LambdaStart: 16476, LambdaEnd: 16476},
	}
	curve := mat.NewDense(11, 1, []float64{-0.1, -0.4, -0.2, 0, -0.05, -0.3, -0.6, -0.1, 0, -0.2, -0.15})
	return blackbox.Figure{
		RunID:       "run",
		Label:       "teff",
		DisplayName: "Teff",
		NumSamples:  5,
		Scale:       blackbox.MaxAbs(curve, 0),
		Segments:    segs.Partition(curve, 0),
		Overlay:     segs.Cut([]float64{0, 0.6, 0.6, 0, 0, 0, 0.6, 0, 0, 0, 0.6}),
	}
}

func TestPNGRenderer(t *testing.T) {
	dir := t.TempDir()
	r := NewPNGRenderer(dir)
	r.PanelWidth, r.PanelHeight = 400, 200

	path, err := r.Render(context.Background(), testFigure())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "blackbox", "teff.png"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 3*200, img.Bounds().Dy())
}

func TestPNGRenderer_NoOverlayNoScale(t *testing.T) {
	fig := testFigure()
	fig.Overlay = nil
	fig.Scale = 0
	r := NewPNGRenderer(t.TempDir())
	r.PanelWidth, r.PanelHeight = 300, 150

	_, err := r.Render(context.Background(), fig)
	require.NoError(t, err)
}

func TestPNGRenderer_Errors(t *testing.T) {
	r := NewPNGRenderer(t.TempDir())
	_, err := r.Render(context.Background(), blackbox.Figure{Label: "teff"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, testFigure())
	require.ErrorIs(t, err, context.Canceled)
}

func TestTerminalRenderer(t *testing.T) {
	var buf bytes.Buffer
	artifact, err := NewTerminalRenderer(&buf, 2).Render(context.Background(), testFigure())
	require.NoError(t, err)
	assert.Empty(t, artifact)

	out := buf.String()
	assert.Contains(t, out, "Teff, Average of 5 Stars")
	assert.Contains(t, out, "[blue]")
	assert.Contains(t, out, "[red]")
	assert.Contains(t, out, "15147.00 | 0.400000")
	assert.Contains(t, out, strings.Repeat("█", maxBarWidth))
	assert.NotContains(t, out, "15146.00")
}

type fixedRenderer struct {
	artifact string
	err      error
}

func (f fixedRenderer) Render(context.Context, blackbox.Figure) (string, error) {
	return f.artifact, f.err
}

func TestMulti(t *testing.T) {
	m := Multi{fixedRenderer{}, fixedRenderer{artifact: "a.png"}, fixedRenderer{artifact: "b.png"}}
	artifact, err := m.Render(context.Background(), testFigure())
	require.NoError(t, err)
	assert.Equal(t, "a.png", artifact)

	boom := errors.New("boom")
	_, err = Multi{fixedRenderer{artifact: "a.png"}, fixedRenderer{err: boom}}.Render(context.Background(), testFigure())
	require.ErrorIs(t, err, boom)
}
