// Package enrich samples analysis layers at record coordinates through a
// remote layers service.
package enrich

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/bulkexport/batch"
)

const Namespace = "enrich"

var (
	ErrUnexpectedStatus = errors.New(Namespace + ": unexpected response status")
	ErrNoEndpoint       = errors.New(Namespace + ": layers service URL is empty")
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxElapsed = 10 * time.Second
	samplePath        = "/intersect/batch/sample"
)

// LayersClient implements batch.Enricher against a layers service.
//
// A sample request is a form POST with fids (comma separated layer ids) and
// points (comma separated lat,lon pairs). The response is CSV: a header row,
// then one row per point holding longitude, latitude and one value per layer.
type LayersClient struct {
	base       string
	hc         *http.Client
	maxElapsed time.Duration
	initial    time.Duration
	log        zerolog.Logger
}

// Option configures a LayersClient.
type Option func(*LayersClient)

// WithHTTPClient replaces the default client with hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *LayersClient) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithMaxElapsed bounds the total time spent retrying one sample call. Zero disables retries.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *LayersClient) { c.maxElapsed = d }
}

// WithInitialBackoff sets the first retry interval.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *LayersClient) {
		if d > 0 {
			c.initial = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *LayersClient) { c.log = l }
}

// NewLayersClient returns a client for the service rooted at baseURL.
func NewLayersClient(baseURL string, opts ...Option) (*LayersClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoEndpoint
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errorc.With(err, errorc.String("url", baseURL))
	}
	c := &LayersClient{
		base:       strings.TrimRight(baseURL, "/"),
		hc:         &http.Client{Timeout: defaultTimeout},
		maxElapsed: defaultMaxElapsed,
		initial:    backoff.DefaultInitialInterval,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.With().Str("component", "layers").Logger()
	return c, nil
}

var _ batch.Enricher = (*LayersClient)(nil)

// Sample implements batch.Enricher. Server errors and transport failures are
// retried with exponential backoff; client errors are not.
func (c *LayersClient) Sample(ctx context.Context, layers []string, points []batch.Point) ([][]string, error) {
	form := url.Values{}
	form.Set("fids", strings.Join(layers, ","))
	form.Set("points", encodePoints(points))
	body := form.Encode()

	var out [][]string
	op := func() error {
		rows, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		out = rows
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initial
	exp.MaxElapsedTime = c.maxElapsed
	var b backoff.BackOff = exp
	if c.maxElapsed <= 0 {
		b = &backoff.StopBackOff{}
	}

	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Dur("wait", wait).Int("points", len(points)).Msg("retrying layer sample")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LayersClient) post(ctx context.Context, body string) ([][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+samplePath, strings.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/csv")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := errorc.With(ErrUnexpectedStatus, errorc.String("status", strconv.Itoa(resp.StatusCode)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	r := csv.NewReader(resp.Body)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, backoff.Permanent(errorc.With(err, errorc.String("component", "layers")))
	}
	return rows, nil
}

// encodePoints joins points as "lat,lon,lat,lon,...". The sampling service
// takes latitude first, the reverse of batch.Point.
func encodePoints(points []batch.Point) string {
	var sb strings.Builder
	for i, p := range points {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
	}
	return sb.String()
}
