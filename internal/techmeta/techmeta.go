// Package techmeta is a Processor that records technical metadata about
// the resources a page of items links to: status, media type, size,
// checksum and, for HTML pages, the document title.
//
// Metadata is cached by the fingerprint of the resource URL, so a resource
// is only fetched once across units, runs and processes sharing the cache.
package techmeta

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"reprocessor/internal/engine"
	"reprocessor/pkg/cache"
	"reprocessor/pkg/config"
	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/retry"
	"reprocessor/pkg/source"
)

// maxBody bounds how much of a resource is read.
const maxBody = 32 << 20

// Metadata is the cached artifact for one resource.
type Metadata struct {
	URL           string    `json:"url"`
	StatusCode    int       `json:"status_code"`
	MediaType     string    `json:"media_type"`
	ContentLength int64     `json:"content_length"`
	Truncated     bool      `json:"truncated,omitempty"`
	SHA256        string    `json:"sha256"`
	Title         string    `json:"title,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Options configures a Processor.
type Options struct {
	Fetch config.FetchConfig
	// Parallel bounds concurrent fetches inside one page.
	Parallel int
	Retrier  *retry.Retrier
	Client   *http.Client
	Logger   logger.Logger
	// OnLookup is told whether each cache lookup was a hit.
	OnLookup func(hit bool)
}

// Processor implements engine.Processor.
type Processor struct {
	cache    *cache.Cache
	client   *http.Client
	retrier  *retry.Retrier
	parallel int
	agent    string
	onLookup func(bool)
	log      logger.Logger
}

var _ engine.Processor = (*Processor)(nil)

// New builds a Processor writing into c.
func New(c *cache.Cache, opts Options) *Processor {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(opts.Fetch)
	}
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	return &Processor{
		cache:    c,
		client:   client,
		retrier:  opts.Retrier,
		parallel: parallel,
		agent:    opts.Fetch.UserAgent,
		onLookup: opts.OnLookup,
		log:      logger.OrNop(opts.Logger),
	}
}

// NewHTTPClient applies the connect and socket timeouts to a fresh client.
func NewHTTPClient(fc config.FetchConfig) *http.Client {
	dialer := &net.Dialer{Timeout: fc.ConnectTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.ResponseHeaderTimeout = fc.SocketTimeout
	return &http.Client{
		Transport: transport,
		Timeout:   fc.ConnectTimeout + fc.SocketTimeout,
	}
}

// Process fetches the metadata of every linked resource in items. Failed
// fetches count as failed items. An unavailable cache store fails the page,
// and so does ctx ending before every fetch finished.
func (p *Processor) Process(ctx context.Context, unit engine.WorkUnit, items []source.Item) (engine.Outcome, error) {
	var (
		failed     atomic.Int64
		deriveNs   atomic.Int64
		downstream atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)

	for _, item := range items {
		item := item
		url := strings.TrimSpace(item.URL)
		if url == "" {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			var derived time.Duration
			_, hit, err := p.cache.GetOrDerive(gctx, cache.Fingerprint(url), url, func(ctx context.Context) ([]byte, error) {
				defer func(t time.Time) { derived = time.Since(t) }(time.Now())
				return p.derive(ctx, url)
			})
			deriveNs.Add(int64(derived))
			downstream.Add(int64(time.Since(start) - derived))

			if err != nil {
				if errs.IsStoreUnavailable(err) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				p.log.WarnWithFields("resource metadata failed", map[string]interface{}{
					"unit_id": unit.ID,
					"item_id": item.ID,
					"url":     url,
					"error":   err.Error(),
				})
				return nil
			}
			if p.onLookup != nil {
				p.onLookup(hit)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return engine.Outcome{}, ctx.Err()
		}
		return engine.Outcome{}, err
	}
	return engine.Outcome{
		Processed:         len(items),
		Failed:            int(failed.Load()),
		ProcessingSeconds: time.Duration(deriveNs.Load()).Seconds(),
		DownstreamSeconds: time.Duration(downstream.Load()).Seconds(),
	}, nil
}

func (p *Processor) derive(ctx context.Context, url string) ([]byte, error) {
	var md *Metadata
	var err error
	if p.retrier != nil {
		md, err = retry.Execute(ctx, p.retrier, func(ctx context.Context) (*Metadata, error) {
			return p.fetch(ctx, url)
		})
	} else {
		md, err = p.fetch(ctx, url)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(md)
}

func (p *Processor) fetch(ctx context.Context, url string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "invalid resource url", err)
	}
	if p.agent != "" {
		req.Header.Set("User-Agent", p.agent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errs.New(errs.TypeForStatus(resp.StatusCode), resp.StatusCode, "fetch "+url, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "read "+url, err)
	}
	md := &Metadata{
		URL:        url,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}
	if len(body) > maxBody {
		body = body[:maxBody]
		md.Truncated = true
	}
	md.ContentLength = int64(len(body))
	if resp.ContentLength > md.ContentLength {
		md.ContentLength = resp.ContentLength
	}
	sum := sha256.Sum256(body)
	md.SHA256 = hex.EncodeToString(sum[:])

	md.MediaType = mediaType(resp.Header.Get("Content-Type"), body)
	if md.MediaType == "text/html" {
		md.Title = htmlTitle(body)
	}
	return md, nil
}

func mediaType(header string, body []byte) string {
	if header == "" {
		header = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mt
}

func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("head > title").First().Text())
}

// Decode parses a cached artifact.
func Decode(artifact []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(artifact, &md); err != nil {
		return nil, fmt.Errorf("decode technical metadata: %w", err)
	}
	return &md, nil
}
