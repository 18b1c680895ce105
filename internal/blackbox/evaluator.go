// Package blackbox measures where in a spectrum a trained model looks by
// zeroing a sliding window and recording how far each prediction moves.
package blackbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/annotation"
	"github.com/tensorplex-labs/blackbox/internal/dataset"
	"github.com/tensorplex-labs/blackbox/internal/metrics"
	"github.com/tensorplex-labs/blackbox/internal/normalization"
	"github.com/tensorplex-labs/blackbox/internal/oracle"
	"github.com/tensorplex-labs/blackbox/internal/utils/logger"
)

// AnnotationFetchError is the non-fatal failure of a reference overlay.
type AnnotationFetchError = annotation.FetchError

const DefaultAnnotationTimeout = 10 * time.Second

// Figure is everything a renderer needs to draw one label.
type Figure struct {
	RunID       string
	Label       string
	DisplayName string
	NumSamples  int
	Scale       float64
	Segments    []SegmentedCurve
	Overlay     [][]float64 // per segment, nil when no reference is available
}

// Renderer turns a figure into an artifact and returns where it went.
type Renderer interface {
	Render(ctx context.Context, fig Figure) (string, error)
}

// Request describes one evaluation run.
type Request struct {
	Store    dataset.Store
	Targets  []string
	Stats    normalization.Stats
	Oracle   oracle.Oracle
	Segments Segments
	Budget   int
}

type LabelResult struct {
	Name        string
	DisplayName string
	Scale       float64
	Segments    []SegmentedCurve
	Overlay     [][]float64
	Artifact    string
	// BaselineResidual is the median |prediction - label| on the unperturbed spectra.
	BaselineResidual float64
}

type Result struct {
	RunID       string
	Rows        []int
	Targets     []string
	Curve       *mat.Dense // windows x labels
	Labels      []LabelResult
	Diagnostics []string
	Elapsed     time.Duration
}

type Evaluator struct {
	perturber         *Perturber
	annotations       annotation.Source
	annotationTimeout time.Duration
	renderer          Renderer
	metrics           *metrics.Recorder
}

type EvaluatorOption func(*Evaluator)

func WithPerturber(p *Perturber) EvaluatorOption {
	return func(e *Evaluator) {
		e.perturber = p
	}
}

// WithAnnotations enables reference overlays from src, each fetch bounded by timeout.
func WithAnnotations(src annotation.Source, timeout time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		e.annotations = src
		if timeout > 0 {
			e.annotationTimeout = timeout
		}
	}
}

func WithRenderer(r Renderer) EvaluatorOption {
	return func(e *Evaluator) {
		e.renderer = r
	}
}

func WithMetrics(r *metrics.Recorder) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = r
	}
}

func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		annotationTimeout: DefaultAnnotationTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.perturber == nil {
		e.perturber = NewPerturber()
	}
	return e
}

// Run executes a full evaluation. Any returned error is fatal and leaves no
// result; annotation failures only add to Result.Diagnostics.
func (e *Evaluator) Run(ctx context.Context, req Request) (*Result, error) {
	res, err := e.run(ctx, req)
	if err != nil {
		e.metrics.RunFinished("failed")
		return nil, err
	}
	e.metrics.RunFinished("ok")
	return res, nil
}

func (e *Evaluator) run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	l := log.With().Str("run_id", runID).Logger()

	if req.Store == nil || req.Oracle == nil {
		return nil, fmt.Errorf("request needs a store and an oracle")
	}

	spectra, err := req.Store.Spectra()
	if err != nil {
		return nil, fmt.Errorf("load spectra: %w", err)
	}
	_, width := spectra.Dims()

	segments := req.Segments
	if segments == nil {
		segments = DefaultSegments()
	}
	if err := e.validate(req, segments, width); err != nil {
		return nil, err
	}

	rows, err := SelectRows(req.Store, req.Targets, req.Budget)
	if err != nil {
		return nil, err
	}
	labels, err := labelMatrix(req.Store, req.Targets, rows)
	if err != nil {
		return nil, err
	}
	base, err := NewBaseline(gatherRows(spectra, rows), req.Stats)
	if err != nil {
		return nil, err
	}

	l.Info().
		Int("rows", len(rows)).
		Int("width", width).
		Strs("targets", req.Targets).
		Msgf("Test set contains %d stars", len(rows))

	o := e.metrics.Instrument(req.Oracle)

	basePred, err := o.Predict(ctx, base.Copy())
	if err != nil {
		return nil, &OracleInvocationError{Window: BaselineWindow, Err: err}
	}
	if r, c := basePred.Dims(); r != len(rows) || c != len(req.Targets) {
		return nil, &OracleInvocationError{
			Window: BaselineWindow,
			Err:    fmt.Errorf("prediction shape %dx%d, want %dx%d", r, c, len(rows), len(req.Targets)),
		}
	}

	scanStart := time.Now()
	deltas, err := e.scan(ctx, l, base, o, basePred)
	if err != nil {
		return nil, err
	}
	l.Info().
		Dur("elapsed", time.Since(scanStart)).
		Msgf("%.2f seconds to make %d predictions", time.Since(scanStart).Seconds(), len(rows))

	curve := Aggregate(deltas)

	res := &Result{
		RunID:   runID,
		Rows:    rows,
		Targets: req.Targets,
		Curve:   curve,
	}

	for i, target := range req.Targets {
		lr, diag, err := e.label(ctx, l, runID, curve, segments, i, target, len(rows))
		if err != nil {
			return nil, err
		}
		lr.BaselineResidual = medianAbsResidual(basePred, labels, i)
		res.Labels = append(res.Labels, lr)
		if diag != "" {
			res.Diagnostics = append(res.Diagnostics, diag)
		}
	}

	res.Elapsed = time.Since(start)
	logger.Sugar().Infow("blackbox evaluation finished",
		"runID", runID,
		"rows", len(rows),
		"windows", width,
		"targets", req.Targets,
		"diagnostics", len(res.Diagnostics),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (e *Evaluator) validate(req Request, segments Segments, width int) error {
	if len(req.Targets) == 0 {
		return &ConfigMismatchError{Field: "targets", Want: "at least one", Got: 0}
	}
	if e.perturber.Width <= 0 {
		return &ConfigMismatchError{Field: "window width", Want: "> 0", Got: e.perturber.Width}
	}
	if err := req.Stats.Validate(width, len(req.Targets)); err != nil {
		return err
	}
	return segments.Validate(width)
}

func (e *Evaluator) scan(ctx context.Context, l zerolog.Logger, base *Baseline, o oracle.Oracle, basePred *mat.Dense) (DeltaTensor, error) {
	p := *e.perturber
	userProgress := p.Progress
	lastDecile := 0
	var mu sync.Mutex
	p.Progress = func(done, total int) {
		e.metrics.WindowsDone(done)
		if userProgress != nil {
			userProgress(done, total)
		}
		mu.Lock()
		defer mu.Unlock()
		if decile := done * 10 / total; decile > lastDecile {
			lastDecile = decile
			l.Debug().Int("done", done).Int("total", total).Msgf("window scan %d%%", decile*10)
		}
	}
	return p.Scan(ctx, base, o, basePred)
}

// label partitions one curve column, attaches the reference overlay and renders it.
func (e *Evaluator) label(ctx context.Context, l zerolog.Logger, runID string, curve *mat.Dense, segments Segments, idx int, target string, numSamples int) (LabelResult, string, error) {
	lr := LabelResult{
		Name:        target,
		DisplayName: annotation.DisplayName(target),
		Scale:       MaxAbs(curve, idx),
		Segments:    segments.Partition(curve, idx),
	}

	var diag string
	if e.annotations != nil {
		overlay, err := e.overlay(ctx, target, lr.Scale, segments)
		var fe *AnnotationFetchError
		switch {
		case err == nil:
			lr.Overlay = overlay
		case errors.As(err, &fe):
			e.metrics.AnnotationFailed()
			diag = fe.Error()
			l.Warn().Err(err).Str("label", target).Msgf("No ASPCAP windows data for %s", lr.DisplayName)
		default:
			return LabelResult{}, "", fmt.Errorf("annotation for %s: %w", target, err)
		}
	}

	if e.renderer != nil {
		artifact, err := e.renderer.Render(ctx, Figure{
			RunID:       runID,
			Label:       target,
			DisplayName: lr.DisplayName,
			NumSamples:  numSamples,
			Scale:       lr.Scale,
			Segments:    lr.Segments,
			Overlay:     lr.Overlay,
		})
		if err != nil {
			return LabelResult{}, "", fmt.Errorf("render %s: %w", target, err)
		}
		lr.Artifact = artifact
		l.Info().Str("label", target).Str("artifact", artifact).Msg("rendered sensitivity curve")
	}

	return lr, diag, nil
}

func (e *Evaluator) overlay(ctx context.Context, target string, scale float64, segments Segments) ([][]float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.annotationTimeout)
	defer cancel()

	mask, err := e.annotations.Fetch(fetchCtx, target)
	if err != nil {
		var fe *AnnotationFetchError
		if !errors.As(err, &fe) && fetchCtx.Err() != nil {
			err = &AnnotationFetchError{Label: target, Err: err}
		}
		return nil, err
	}

	width := segments[len(segments)-1].End
	scaled, err := annotation.ScaleTo(target, mask, scale, width)
	if err != nil {
		return nil, err
	}
	return segments.Cut(scaled), nil
}

func medianAbsResidual(pred, labels *mat.Dense, idx int) float64 {
	rows, _ := pred.Dims()
	res := make([]float64, rows)
	for i := range rows {
		d := pred.At(i, idx) - labels.At(i, idx)
		if d < 0 {
			d = -d
		}
		res[i] = d
	}
	return Median(res)
}
