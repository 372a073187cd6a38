package message

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/americaro/quotemail/pkg/metrics"
)

// Origin names where the attachment bytes came from.
type Origin string

const (
	OriginURL    Origin = "url"
	OriginBase64 Origin = "base64"
	OriginUpload Origin = "upload"
)

// DefaultFetchTimeout bounds a single source PDF download.
const DefaultFetchTimeout = 30 * time.Second

// Attachment holds the PDF bytes of one request.
type Attachment struct {
	Data   []byte
	Origin Origin
}

// Source produces the attachment bytes of a request.
type Source interface {
	Load(ctx context.Context) (Attachment, error)
}

// Fetcher downloads source PDFs over HTTP.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher returns a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/pdf, */*")
	return &Fetcher{client: client}
}

// FromURL returns a Source that downloads rawURL with an HTTP GET.
func (f *Fetcher) FromURL(rawURL string) Source {
	return &urlSource{client: f.client, url: rawURL}
}

type urlSource struct {
	client *resty.Client
	url    string
}

func (s *urlSource) Load(ctx context.Context) (Attachment, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		metrics.PDFFetches.WithLabelValues("error").Inc()
		return Attachment{}, &FetchError{URL: s.url, Err: err}
	}
	if !resp.IsSuccess() {
		metrics.PDFFetches.WithLabelValues("bad_status").Inc()
		return Attachment{}, &FetchError{URL: s.url, StatusCode: resp.StatusCode()}
	}
	metrics.PDFFetches.WithLabelValues("success").Inc()
	return Attachment{Data: resp.Body(), Origin: OriginURL}, nil
}

// FromBase64 returns a Source that decodes a standard base64 payload.
// Surrounding whitespace and a data URL prefix ("data:application/pdf;base64,")
// are tolerated.
func FromBase64(payload string) Source {
	return base64Source(payload)
}

type base64Source string

func (s base64Source) Load(context.Context) (Attachment, error) {
	payload := strings.TrimSpace(string(s))
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Attachment{}, &DecodeError{Err: err}
	}
	return Attachment{Data: data, Origin: OriginBase64}, nil
}

// FromUpload returns a Source reading an already received upload stream.
func FromUpload(r io.Reader) Source {
	return &uploadSource{r: r}
}

type uploadSource struct {
	r io.Reader
}

func (s *uploadSource) Load(context.Context) (Attachment, error) {
	data, err := io.ReadAll(s.r)
	if err != nil {
		return Attachment{}, fmt.Errorf("read uploaded pdf: %w", err)
	}
	return Attachment{Data: data, Origin: OriginUpload}, nil
}
