// Package render draws sensitivity curves, one artifact per label.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wcharczuk/go-chart/v2"

	"github.com/tensorplex-labs/blackbox/internal/blackbox"
)

const (
	DefaultPanelWidth  = 2000
	DefaultPanelHeight = 400

	// ArtifactDir is created under the output directory to hold the images.
	ArtifactDir = "blackbox"
)

// PNGRenderer writes one PNG per label with a stacked panel per segment.
type PNGRenderer struct {
	OutDir      string
	PanelWidth  int
	PanelHeight int
}

func NewPNGRenderer(outDir string) *PNGRenderer {
	return &PNGRenderer{
		OutDir:      outDir,
		PanelWidth:  DefaultPanelWidth,
		PanelHeight: DefaultPanelHeight,
	}
}

// Path is where the image for label ends up.
func (r *PNGRenderer) Path(label string) string {
	return filepath.Join(r.OutDir, ArtifactDir, label+".png")
}

func (r *PNGRenderer) Render(ctx context.Context, fig blackbox.Figure) (string, error) {
	if len(fig.Segments) == 0 {
		return "", fmt.Errorf("figure for %s has no segments", fig.Label)
	}

	panels := make([]image.Image, 0, len(fig.Segments))
	for i, seg := range fig.Segments {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var overlay []float64
		if i < len(fig.Overlay) {
			overlay = fig.Overlay[i]
		}
		title := ""
		if i == 0 {
			title = fmt.Sprintf("%s, Average of %d Stars", fig.DisplayName, fig.NumSamples)
		}
		img, err := r.panel(title, fig.DisplayName, fig.Scale, seg, overlay)
		if err != nil {
			return "", fmt.Errorf("render %s segment %s: %w", fig.Label, seg.Name, err)
		}
		panels = append(panels, img)
	}

	path := r.Path(fig.Label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, stack(panels)); err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	log.Debug().Str("label", fig.Label).Str("path", path).Int("panels", len(panels)).Msg("wrote sensitivity plot")
	return path, nil
}

func (r *PNGRenderer) panel(title, yName string, scale float64, seg blackbox.SegmentedCurve, overlay []float64) (image.Image, error) {
	if scale <= 0 {
		scale = 1
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "Attention",
			XValues: padSingle(seg.Wavelength, 1),
			YValues: padSingle(seg.Attention, 0),
			Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 1.5},
		},
	}
	if len(overlay) == len(seg.Attention) {
		series = append(series, chart.ContinuousSeries{
			Name:    "ASPCAP windows",
			XValues: padSingle(seg.Wavelength, 1),
			YValues: padSingle(overlay, 0),
			Style:   chart.Style{StrokeColor: chart.ColorRed, StrokeWidth: 1, FillColor: chart.ColorRed.WithAlpha(48)},
		})
	}

	ch := chart.Chart{
		Title:  title,
		Width:  r.PanelWidth,
		Height: r.PanelHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{Name: "Wavelength (Angstrom)"},
		YAxis: chart.YAxis{
			Name:  yName,
			Range: &chart.ContinuousRange{Min: 0, Max: scale},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return png.Decode(&buf)
}

// padSingle turns a one-point series into a flat two-point one, which the
// chart needs to compute a range.
func padSingle(values []float64, step float64) []float64 {
	if len(values) != 1 {
		return values
	}
	return []float64{values[0], values[0] + step}
}

func stack(panels []image.Image) image.Image {
	width, height := 0, 0
	for _, p := range panels {
		b := p.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	y := 0
	for _, p := range panels {
		b := p.Bounds()
		draw.Draw(out, image.Rect(0, y, b.Dx(), y+b.Dy()), p, b.Min, draw.Src)
		y += b.Dy()
	}
	return out
}
