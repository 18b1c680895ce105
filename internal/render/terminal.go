package render

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tensorplex-labs/blackbox/internal/blackbox"
)

const maxBarWidth = 50

// TerminalRenderer prints the most sensitive wavelengths of each segment as
// horizontal bars. It is meant for a quick look, not as an artifact.
type TerminalRenderer struct {
	Out  io.Writer
	TopK int
}

func NewTerminalRenderer(out io.Writer, topK int) *TerminalRenderer {
	if topK <= 0 {
		topK = 10
	}
	return &TerminalRenderer{Out: out, TopK: topK}
}

func (r *TerminalRenderer) Render(_ context.Context, fig blackbox.Figure) (string, error) {
	type point struct {
		Wavelength float64
		Attention  float64
	}

	fmt.Fprintf(r.Out, "\n%s, Average of %d Stars (Terminal Plot - top %d per segment):\n", fig.DisplayName, fig.NumSamples, r.TopK)
	for _, seg := range fig.Segments {
		points := make([]point, len(seg.Attention))
		for i := range seg.Attention {
			points[i] = point{Wavelength: seg.Wavelength[i], Attention: seg.Attention[i]}
		}

		// Sort by attention in descending order
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Attention > points[j].Attention
		})
		if len(points) > r.TopK {
			points = points[:r.TopK]
		}

		fmt.Fprintf(r.Out, "\n[%s] %.0f-%.0f\n", seg.Name, seg.LambdaStart, seg.LambdaEnd)
		fmt.Fprintln(r.Out, "Wavelength | Attention | Bar Chart")
		fmt.Fprintln(r.Out, "-----------|-----------|"+strings.Repeat("-", maxBarWidth))

		for _, p := range points {
			var barWidth int
			if fig.Scale > 0 {
				barWidth = int(p.Attention / fig.Scale * maxBarWidth)
			}
			bar := strings.Repeat("█", barWidth)
			if barWidth == 0 {
				bar = "▏"
			}
			fmt.Fprintf(r.Out, "%10.2f | %.6f  | %s\n", p.Wavelength, p.Attention, bar)
		}
	}
	fmt.Fprintf(r.Out, "\nScale: Max=%.6f\n", fig.Scale)
	return "", nil
}

// Multi renders with every renderer in turn and reports the first non-empty artifact.
type Multi []blackbox.Renderer

func (m Multi) Render(ctx context.Context, fig blackbox.Figure) (string, error) {
	artifact := ""
	for _, r := range m {
		out, err := r.Render(ctx, fig)
		if err != nil {
			return "", err
		}
		if artifact == "" {
			artifact = out
		}
	}
	return artifact, nil
}
