package annotation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"C":     "C",
		"teff":  `$T_{\mathrm{eff}}$`,
		"alpha": "[Alpha/M]",
		"logg":  "[Log(g)]",
		"Ti2":   "TiII",
		"Cl":    "CI",
		"Fe":    "Fe",
	}
	for in, want := range tests {
		assert.Equal(t, want, DisplayName(in), in)
	}
}

func TestParseMask(t *testing.T) {
	mask, err := ParseMask(strings.NewReader("0\t1\n1\t0\n\n0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0.5}, mask)

	_, err = ParseMask(strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyMask)

	_, err = ParseMask(strings.NewReader("x\n"))
	require.Error(t, err)
}

func newSource(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *HTTPSource {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	s, err := NewHTTPSource(&HTTPConfig{
		BaseURL:      ts.URL,
		Timeout:      timeout,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestHTTPSource_Fetch(t *testing.T) {
	s := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Fe.mask" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("0\n1\n1\n0\n"))
	}, time.Second)

	mask, err := s.Fetch(context.Background(), "Fe")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 0}, mask)
}

func TestHTTPSource_NotFoundIsFetchError(t *testing.T) {
	s := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, time.Second)

	_, err := s.Fetch(context.Background(), "teff")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "teff", fe.Label)
}

func TestHTTPSource_RetriesOnce(t *testing.T) {
	var calls atomic.Int32
	s := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("1\n"))
	}, time.Second)

	mask, err := s.Fetch(context.Background(), "Mg")
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, mask)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_GivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	s := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Second)

	_, err := s.Fetch(context.Background(), "Mg")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_Timeout(t *testing.T) {
	release := make(chan struct{})
	s := newSource(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 20*time.Millisecond)
	defer close(release)

	start := time.Now()
	_, err := s.Fetch(context.Background(), "Mg")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type countingSource struct {
	calls int
	mask  []float64
	err   error
}

func (c *countingSource) Fetch(context.Context, string) ([]float64, error) {
	c.calls++
	return c.mask, c.err
}

func TestCachedSource(t *testing.T) {
	src := &countingSource{mask: []float64{0, 1}}
	cached := NewCachedSource(src, NewMemoryKV(), time.Hour)

	for range 3 {
		mask, err := cached.Fetch(context.Background(), "logg")
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1}, mask)
	}
	assert.Equal(t, 1, src.calls)
}

func TestCachedSource_DoesNotCacheFailures(t *testing.T) {
	src := &countingSource{err: &FetchError{Label: "logg", Err: errors.New("down")}}
	cached := NewCachedSource(src, NewMemoryKV(), time.Hour)

	for range 2 {
		_, err := cached.Fetch(context.Background(), "logg")
		require.Error(t, err)
	}
	assert.Equal(t, 2, src.calls)
}

func TestMemoryKV_Expiry(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Unix(1000, 0)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(context.Background(), "k", "v", time.Minute))
	got, err := kv.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	now = now.Add(2 * time.Minute)
	got, err = kv.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScaleTo(t *testing.T) {
	out, err := ScaleTo("Fe", []float64{0, 1, 0.5, 9}, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4, 2}, out)

	_, err = ScaleTo("Fe", []float64{1}, 4, 3)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}
