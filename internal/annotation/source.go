// Package annotation fetches reference sensitivity masks to overlay on computed curves.
package annotation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL hosts the ASPCAP window masks, one file per label.
const DefaultBaseURL = "https://svn.sdss.org/public/repo/apogee/idlwrap/trunk/lib/l31c"

// Source returns a reference mask for a label, one value per feature column.
type Source interface {
	Fetch(ctx context.Context, label string) ([]float64, error)
}

// FetchError is the single non-fatal failure category of a Source. Callers
// omit the overlay and carry on.
type FetchError struct {
	Label string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch annotation for %s: %v", e.Label, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DisplayName translates an internal label key into the identifier the
// reference source files are named after.
func DisplayName(label string) string {
	if len(label) < 2 {
		return label
	}
	switch label {
	case "teff":
		return `$T_{\mathrm{eff}}$`
	case "alpha":
		return "[Alpha/M]"
	case "logg":
		return "[Log(g)]"
	case "Ti2":
		return "TiII"
	case "Cl":
		return "CI"
	}
	return label
}

type HTTPConfig struct {
	BaseURL      string
	Timeout      time.Duration
	DisableRetry bool
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPSource downloads "<base>/<display name>.mask" files.
type HTTPSource struct {
	client  *retryablehttp.Client
	baseURL string
}

func NewHTTPSource(cfg *HTTPConfig) (*HTTPSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	if cfg.DisableRetry {
		client.RetryMax = 0
	}
	client.HTTPClient.Timeout = 10 * time.Second
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.RetryWaitMin = 500 * time.Millisecond
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	client.RetryWaitMax = 2 * time.Second
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.Logger = nil

	log.Debug().
		Str("base_url", baseURL).
		Int("retry_max", client.RetryMax).
		Str("timeout", client.HTTPClient.Timeout.String()).
		Msg("annotation client initialized")

	return &HTTPSource{
		client:  client,
		baseURL: baseURL,
	}, nil
}

// URL is where the mask for label is expected.
func (s *HTTPSource) URL(label string) string {
	return s.baseURL + "/" + url.PathEscape(DisplayName(label)) + ".mask"
}

func (s *HTTPSource) Fetch(ctx context.Context, label string) ([]float64, error) {
	u := s.URL(label)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Label: label, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Label: label, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Label: label, Err: fmt.Errorf("status %d from %s", resp.StatusCode, u)}
	}

	mask, err := ParseMask(resp.Body)
	if err != nil {
		return nil, &FetchError{Label: label, Err: err}
	}

	log.Debug().Str("label", label).Str("url", u).Int("length", len(mask)).Msg("fetched annotation")
	return mask, nil
}

var ErrEmptyMask = errors.New("empty mask")

// ParseMask reads a tab separated numeric table and returns its first column.
func ParseMask(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var mask []float64
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mask line %d: %w", line, err)
		}
		field := strings.TrimSpace(record[0])
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("mask line %d: %w", line, err)
		}
		mask = append(mask, v)
	}

	if len(mask) == 0 {
		return nil, ErrEmptyMask
	}
	return mask, nil
}
