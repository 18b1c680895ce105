package blackbox

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/annotation"
	"github.com/tensorplex-labs/blackbox/internal/dataset"
	"github.com/tensorplex-labs/blackbox/internal/metrics"
)

const (
	evalSamples = 5
	evalWidth   = 12
)

type fakeSource struct {
	mask  []float64
	err   error
	block bool
	calls int
}

func (f *fakeSource) Fetch(ctx context.Context, _ string) ([]float64, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.mask, f.err
}

type recordingRenderer struct {
	mu      sync.Mutex
	figures []Figure
	err     error
}

func (r *recordingRenderer) Render(_ context.Context, fig Figure) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.figures = append(r.figures, fig)
	return "/tmp/" + fig.Label + ".png", nil
}

type EvaluatorTestSuite struct {
	suite.Suite
	store    *dataset.MemoryStore
	oracle   *stubOracle
	segments Segments
}

func (s *EvaluatorTestSuite) SetupTest() {
	store, err := dataset.NewMemoryStore(rampFeatures(8, evalWidth), map[string][]float64{
		"teff": {5000, dataset.Sentinel, 5100, 5200, dataset.Sentinel, 5300, 5400, 5500},
	})
	s.Require().NoError(err)
	s.store = store
	s.oracle = &stubOracle{reduce: meanRow}
	s.segments = Segments{
		{Name: "blue", Start: 0, End: 5, LambdaStart: 100, LambdaEnd: 104},
		{Name: "green", Start: 5, End: 9, LambdaStart: 200, LambdaEnd: 203},
		{Name: "red", Start: 9, End: evalWidth, LambdaStart: 300, LambdaEnd: 302},
	}
}

func (s *EvaluatorTestSuite) request() Request {
	return Request{
		Store:    s.store,
		Targets:  []string{"teff"},
		Stats:    identityStats(evalWidth, 1),
		Oracle:   s.oracle,
		Segments: s.segments,
		Budget:   evalSamples,
	}
}

func (s *EvaluatorTestSuite) evaluator(opts ...EvaluatorOption) *Evaluator {
	opts = append([]EvaluatorOption{WithPerturber(NewPerturber(WithWorkers(2)))}, opts...)
	return NewEvaluator(opts...)
}

func (s *EvaluatorTestSuite) TestMeanOracleEndToEnd() {
	renderer := &recordingRenderer{}
	res, err := s.evaluator(WithRenderer(renderer)).Run(context.Background(), s.request())
	s.Require().NoError(err)

	s.Equal([]int{0, 2, 3, 5, 6}, res.Rows)
	s.Equal(int64(1+evalWidth), s.oracle.calls.Load())
	s.NotEmpty(res.RunID)

	rows, cols := res.Curve.Dims()
	s.Equal(evalWidth, rows)
	s.Equal(1, cols)

	spectra, err := s.store.Spectra()
	s.Require().NoError(err)
	for j := range evalWidth {
		lo, hi := WindowBounds(j, DefaultWindowWidth, evalWidth)
		perRow := make([]float64, len(res.Rows))
		for i, row := range res.Rows {
			for c := lo; c < hi; c++ {
				perRow[i] -= spectra.At(row, c) / evalWidth
			}
		}
		s.InDelta(Median(perRow), res.Curve.At(j, 0), 1e-9, "window %d", j)
	}

	s.Require().Len(res.Labels, 1)
	label := res.Labels[0]
	s.Equal(`$T_{\mathrm{eff}}$`, label.DisplayName)
	s.Equal(MaxAbs(res.Curve, 0), label.Scale)
	s.Require().Len(label.Segments, 3)
	total := 0
	for _, seg := range label.Segments {
		total += len(seg.Attention)
		for k := range seg.Attention {
			s.LessOrEqual(seg.Signed[k], 0.0)
			s.GreaterOrEqual(seg.Attention[k], 0.0)
		}
	}
	s.Equal(evalWidth, total)
	s.Greater(label.BaselineResidual, 0.0)
	s.Equal("/tmp/teff.png", label.Artifact)

	s.Require().Len(renderer.figures, 1)
	s.Equal(evalSamples, renderer.figures[0].NumSamples)
	s.Equal(res.RunID, renderer.figures[0].RunID)
	s.Nil(renderer.figures[0].Overlay)
}

func (s *EvaluatorTestSuite) TestAllSentinelFailsBeforeOracle() {
	store, err := dataset.NewMemoryStore(rampFeatures(3, evalWidth), map[string][]float64{
		"teff": {dataset.Sentinel, dataset.Sentinel, dataset.Sentinel},
	})
	s.Require().NoError(err)
	req := s.request()
	req.Store = store

	res, err := s.evaluator().Run(context.Background(), req)
	s.Nil(res)
	var insufficient *DataInsufficientError
	s.Require().ErrorAs(err, &insufficient)
	s.Zero(s.oracle.calls.Load())
}

func (s *EvaluatorTestSuite) TestStatsMismatchFailsBeforeOracle() {
	req := s.request()
	req.Stats = identityStats(evalWidth-1, 1)

	_, err := s.evaluator().Run(context.Background(), req)
	var mismatch *ConfigMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.Zero(s.oracle.calls.Load())
}

func (s *EvaluatorTestSuite) TestSegmentsMustTileFeatures() {
	req := s.request()
	req.Segments = SingleSegment(evalWidth + 1)

	_, err := s.evaluator().Run(context.Background(), req)
	var mismatch *ConfigMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.Zero(s.oracle.calls.Load())
}

func (s *EvaluatorTestSuite) TestBaselineFailure() {
	s.oracle.failAt = func(batch *mat.Dense) bool { return windowStart(batch) == -1 }

	_, err := s.evaluator().Run(context.Background(), s.request())
	var oe *OracleInvocationError
	s.Require().ErrorAs(err, &oe)
	s.Equal(BaselineWindow, oe.Window)
	s.Equal(int64(1), s.oracle.calls.Load())
}

func (s *EvaluatorTestSuite) TestWindowFailureIsFatal() {
	s.oracle.failAt = func(batch *mat.Dense) bool { return windowStart(batch) == 7 }
	renderer := &recordingRenderer{}

	res, err := s.evaluator(WithRenderer(renderer)).Run(context.Background(), s.request())
	s.Nil(res)
	var oe *OracleInvocationError
	s.Require().ErrorAs(err, &oe)
	s.Equal(7, oe.Window)
	s.Empty(renderer.figures)
}

func (s *EvaluatorTestSuite) TestOverlayIsScaledAndCut() {
	mask := make([]float64, evalWidth+3)
	for i := range mask {
		mask[i] = float64(i % 2)
	}
	src := &fakeSource{mask: mask}
	renderer := &recordingRenderer{}

	res, err := s.evaluator(WithAnnotations(src, time.Second), WithRenderer(renderer)).Run(context.Background(), s.request())
	s.Require().NoError(err)
	s.Empty(res.Diagnostics)

	label := res.Labels[0]
	s.Require().Len(label.Overlay, 3)
	s.Len(label.Overlay[0], 5)
	s.Len(label.Overlay[1], 4)
	s.Len(label.Overlay[2], 3)
	s.Equal([]float64{0, label.Scale, 0, label.Scale, 0}, label.Overlay[0])
	s.Equal(label.Overlay, renderer.figures[0].Overlay)
}

func (s *EvaluatorTestSuite) TestAnnotationFailureIsDiagnostic() {
	src := &fakeSource{err: &annotation.FetchError{Label: "teff", Err: errors.New("404 Not Found")}}
	recorder := metrics.NewRecorder()
	renderer := &recordingRenderer{}

	res, err := s.evaluator(WithAnnotations(src, time.Second), WithRenderer(renderer), WithMetrics(recorder)).
		Run(context.Background(), s.request())
	s.Require().NoError(err)
	s.Require().Len(res.Diagnostics, 1)
	s.Contains(res.Diagnostics[0], "404")
	s.Nil(res.Labels[0].Overlay)
	s.Len(renderer.figures, 1)

	n, err := testutil.GatherAndCount(recorder.Registry(), "blackbox_annotation_failures_total")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *EvaluatorTestSuite) TestShortMaskIsDiagnostic() {
	src := &fakeSource{mask: []float64{1, 1, 1}}

	res, err := s.evaluator(WithAnnotations(src, time.Second)).Run(context.Background(), s.request())
	s.Require().NoError(err)
	s.Len(res.Diagnostics, 1)
	s.Nil(res.Labels[0].Overlay)
}

func (s *EvaluatorTestSuite) TestAnnotationTimeoutIsDiagnostic() {
	src := &fakeSource{block: true}

	res, err := s.evaluator(WithAnnotations(src, 20*time.Millisecond)).Run(context.Background(), s.request())
	s.Require().NoError(err)
	s.Len(res.Diagnostics, 1)
	s.Equal(1, src.calls)
}

func (s *EvaluatorTestSuite) TestRendererFailureIsFatal() {
	renderer := &recordingRenderer{err: errors.New("disk full")}

	_, err := s.evaluator(WithRenderer(renderer)).Run(context.Background(), s.request())
	s.Require().Error(err)
	s.Contains(err.Error(), "disk full")
}

func (s *EvaluatorTestSuite) TestMultipleLabels() {
	store, err := dataset.NewMemoryStore(rampFeatures(6, evalWidth), map[string][]float64{
		"teff": {5000, 5100, dataset.Sentinel, 5300, 5400, 5500},
		"logg": {2.5, 2.6, 2.7, dataset.Sentinel, 2.9, 3.0},
	})
	s.Require().NoError(err)
	two := &stubOracle{reduce: meanRow}
	twoLabels := oracleFunc(func(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
		one, err := two.Predict(ctx, batch)
		if err != nil {
			return nil, err
		}
		rows, _ := one.Dims()
		out := mat.NewDense(rows, 2, nil)
		out.SetCol(0, mat.Col(nil, 0, one))
		col := mat.Col(nil, 0, one)
		for i := range col {
			col[i] *= 2
		}
		out.SetCol(1, col)
		return out, nil
	})

	req := s.request()
	req.Store = store
	req.Targets = []string{"teff", "logg"}
	req.Stats = identityStats(evalWidth, 2)
	req.Oracle = twoLabels
	req.Budget = 0

	res, err := s.evaluator().Run(context.Background(), req)
	s.Require().NoError(err)
	s.Equal([]int{0, 1, 4, 5}, res.Rows)
	s.Require().Len(res.Labels, 2)
	s.Equal("[Log(g)]", res.Labels[1].DisplayName)
	s.InDelta(2*res.Labels[0].Scale, res.Labels[1].Scale, 1e-9)
}

func (s *EvaluatorTestSuite) TestRunRecordsOutcome() {
	recorder := metrics.NewRecorder()
	_, err := s.evaluator(WithMetrics(recorder)).Run(context.Background(), s.request())
	s.Require().NoError(err)

	req := s.request()
	req.Targets = nil
	_, err = s.evaluator(WithMetrics(recorder)).Run(context.Background(), req)
	s.Require().Error(err)

	n, err := testutil.GatherAndCount(recorder.Registry(), "blackbox_runs_total")
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = testutil.GatherAndCount(recorder.Registry(), "blackbox_oracle_calls_total")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func TestEvaluatorTestSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorTestSuite))
}

type oracleFunc func(ctx context.Context, batch *mat.Dense) (*mat.Dense, error)

func (f oracleFunc) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	return f(ctx, batch)
}

func (oracleFunc) Reentrant() bool { return true }

func BenchmarkEvaluatorRun(b *testing.B) {
	const rows, width = 32, 512
	store, err := dataset.NewMemoryStore(rampFeatures(rows, width), map[string][]float64{
		"teff": slices.Repeat([]float64{5000}, rows),
	})
	if err != nil {
		b.Fatal(err)
	}
	req := Request{
		Store:    store,
		Targets:  []string{"teff"},
		Stats:    identityStats(width, 1),
		Oracle:   &stubOracle{reduce: meanRow},
		Segments: SingleSegment(width),
		Budget:   DefaultBudget,
	}
	e := NewEvaluator()

	b.ResetTimer()
	for b.Loop() {
		if _, err := e.Run(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
