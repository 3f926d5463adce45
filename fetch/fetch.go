// Package fetch provides the transport used to load image bytes.
//
// A [Fetcher] does its I/O wherever it likes but delivers every
// callback through a [loop.Poster], so callers observe progress and
// completion on the cooperative runtime and never need locks.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/djdv/go-imagecache/loop"
	"github.com/sirupsen/logrus"
)

type (
	// Fetcher retrieves the bytes at a URL.
	// progress may be called any number of times before done,
	// done is called exactly once. Both are called on the runtime.
	// Cancelling ctx ends the fetch with ctx's error.
	Fetcher interface {
		Fetch(ctx context.Context, url string,
			progress func(loaded, total int64),
			done func(data []byte, err error))
	}
	// Func adapts an ordinary function to the [Fetcher] interface.
	Func func(ctx context.Context, url string,
		progress func(loaded, total int64),
		done func(data []byte, err error))

	// HTTP is a [Fetcher] backed by net/http.
	// Constructed by [NewHTTP].
	HTTP struct {
		poster loop.Poster
		client *http.Client
		log    logrus.FieldLogger
	}
	// Option configures an [HTTP] fetcher during [NewHTTP].
	Option func(*HTTP)

	// StatusError is returned when the server replies
	// with anything but 200 OK.
	StatusError struct {
		Status     int
		StatusText string
	}

	progressReader struct {
		reader   io.Reader
		report   func(loaded int64)
		loaded   int64
		interval time.Duration
		last     time.Time
	}
)

const defaultProgressInterval = 50 * time.Millisecond

func (fn Func) Fetch(ctx context.Context, url string,
	progress func(loaded, total int64),
	done func(data []byte, err error),
) {
	fn(ctx, url, progress, done)
}

func (se *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", se.Status, se.StatusText)
}

// AsStatus extracts the HTTP status carried by err, if any.
func AsStatus(err error) (status int, text string, ok bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, statusErr.StatusText, true
	}
	return 0, "", false
}

// NewHTTP creates an [HTTP] fetcher that delivers callbacks via poster.
func NewHTTP(poster loop.Poster, options ...Option) *HTTP {
	fetcher := &HTTP{
		poster: poster,
		// Deadlines are per fetch, through ctx.
		client: &http.Client{Timeout: 0},
	}
	for _, apply := range options {
		apply(fetcher)
	}
	fetcher.log = logging.Component(fetcher.log, "fetch")
	return fetcher
}

// WithClient replaces the default HTTP client.
func WithClient(client *http.Client) Option {
	return func(h *HTTP) { h.client = client }
}

// WithLogger sets the logger used by the [HTTP] fetcher.
func WithLogger(log logrus.FieldLogger) Option {
	return func(h *HTTP) { h.log = log }
}

// Fetch starts a GET request for url in a new goroutine.
func (h *HTTP) Fetch(ctx context.Context, url string,
	progress func(loaded, total int64),
	done func(data []byte, err error),
) {
	go func() {
		data, err := h.get(ctx, url, progress)
		h.poster.Post(func() { done(data, err) })
	}()
}

func (h *HTTP) get(ctx context.Context, url string, progress func(loaded, total int64)) ([]byte, error) {
	log := h.log.WithField("url", url)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	response, err := h.client.Do(request)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		log.WithField("status", response.StatusCode).Debug("unexpected status")
		return nil, &StatusError{
			Status:     response.StatusCode,
			StatusText: http.StatusText(response.StatusCode),
		}
	}
	total := max(response.ContentLength, 0)
	body := &progressReader{
		reader:   response.Body,
		interval: defaultProgressInterval,
		report: func(loaded int64) {
			if progress != nil {
				h.poster.Post(func() { progress(loaded, total) })
			}
		},
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	body.report(int64(len(data)))
	log.WithField("bytes", len(data)).Debug("fetched")
	return data, nil
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.loaded += int64(n)
	if now := time.Now(); n > 0 && now.Sub(pr.last) >= pr.interval {
		pr.last = now
		pr.report(pr.loaded)
	}
	return n, err
}
