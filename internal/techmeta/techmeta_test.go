package techmeta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprocessor/internal/engine"
	"reprocessor/pkg/cache"
	"reprocessor/pkg/config"
	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/progress"
	"reprocessor/pkg/retry"
	"reprocessor/pkg/source"
)

type resourceServer struct {
	*httptest.Server
	hits   atomic.Int32
	flakes atomic.Int32
	agent  atomic.Value
}

func newResourceServer(t *testing.T) *resourceServer {
	t.Helper()
	rs := &resourceServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.hits.Add(1)
		rs.agent.Store(r.UserAgent())
		switch r.URL.Path {
		case "/page.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title> The Night Watch </title></head><body>x</body></html>`))
		case "/image.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3})
		case "/slow":
			<-r.Context().Done()
		case "/flaky":
			if rs.flakes.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("ok"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func items(urls ...string) []source.Item {
	out := make([]source.Item, len(urls))
	for i, u := range urls {
		out[i] = source.Item{ID: u, URL: u}
	}
	return out
}

func TestProcessRecordsMetadata(t *testing.T) {
	rs := newResourceServer(t)
	store := cache.NewMemoryStore()
	var lookups, hits atomic.Int32
	p := New(cache.New(store), Options{
		Fetch:    config.FetchConfig{ConnectTimeout: time.Second, SocketTimeout: time.Second, UserAgent: "reprocessor-test"},
		Parallel: 2,
		OnLookup: func(hit bool) {
			lookups.Add(1)
			if hit {
				hits.Add(1)
			}
		},
	})

	page := items(rs.URL+"/page.html", rs.URL+"/image.jpg", rs.URL+"/missing", "  ")
	out, err := p.Process(context.Background(), engine.WorkUnit{ID: "links.txt"}, page)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Processed)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, "reprocessor-test", rs.agent.Load())

	entry, err := store.Get(context.Background(), cache.Fingerprint(rs.URL+"/page.html"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	md, err := Decode(entry.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "text/html", md.MediaType)
	assert.Equal(t, "The Night Watch", md.Title)
	assert.Equal(t, http.StatusOK, md.StatusCode)
	assert.Len(t, md.SHA256, 64)

	entry, err = store.Get(context.Background(), cache.Fingerprint(rs.URL+"/image.jpg"))
	require.NoError(t, err)
	md, err = Decode(entry.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", md.MediaType)
	assert.Equal(t, int64(7), md.ContentLength)
	assert.Empty(t, md.Title)

	missing, err := store.Exists(context.Background(), cache.Fingerprint(rs.URL+"/missing"))
	require.NoError(t, err)
	assert.False(t, missing)

	assert.Equal(t, int32(2), lookups.Load())
	assert.Zero(t, hits.Load())
}

func TestProcessUsesCacheOnSecondPass(t *testing.T) {
	rs := newResourceServer(t)
	p := New(cache.New(cache.NewMemoryStore()), Options{Parallel: 4})
	page := items(rs.URL+"/page.html", rs.URL+"/image.jpg")

	_, err := p.Process(context.Background(), engine.WorkUnit{ID: "a"}, page)
	require.NoError(t, err)
	require.Equal(t, int32(2), rs.hits.Load())

	out, err := p.Process(context.Background(), engine.WorkUnit{ID: "b"}, page)
	require.NoError(t, err)
	assert.Zero(t, out.Failed)
	assert.Equal(t, int32(2), rs.hits.Load())
}

func TestProcessRetriesTransientFetches(t *testing.T) {
	rs := newResourceServer(t)
	r := retry.NewRetrier(retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
	})
	p := New(cache.New(cache.NewMemoryStore()), Options{Parallel: 1, Retrier: r})

	out, err := p.Process(context.Background(), engine.WorkUnit{ID: "a"}, items(rs.URL+"/flaky"))
	require.NoError(t, err)
	assert.Zero(t, out.Failed)
	assert.Equal(t, int32(2), rs.hits.Load())
}

type downStore struct{ cache.MemoryStore }

func (d *downStore) Exists(ctx context.Context, fp string) (bool, error) {
	return false, errs.StoreUnavailable("exists", errors.New("connection refused"))
}

func TestProcessFailsPageWhenCacheStoreIsDown(t *testing.T) {
	rs := newResourceServer(t)
	p := New(cache.New(&downStore{}), Options{Parallel: 2})

	_, err := p.Process(context.Background(), engine.WorkUnit{ID: "a"}, items(rs.URL+"/page.html", rs.URL+"/image.jpg"))
	require.Error(t, err)
	assert.True(t, errs.IsStoreUnavailable(err))
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/html", mediaType("text/html; charset=UTF-8", nil))
	assert.Equal(t, "image/png", mediaType("", []byte("\x89PNG\r\n\x1a\n0000")))
	assert.Equal(t, "application/x-thing", mediaType("application/x-thing;;bad", nil))
}

// pageSource serves a fixed list of items.
type pageSource []source.Item

func (s pageSource) Count(context.Context, string) (int64, error) {
	return int64(len(s)), nil
}

func (s pageSource) FetchPage(_ context.Context, _ string, skip, limit int) ([]source.Item, error) {
	if skip >= len(s) {
		return nil, nil
	}
	return s[skip:min(skip+limit, len(s))], nil
}

func TestProcessReturnsContextErrorWhenCancelled(t *testing.T) {
	rs := newResourceServer(t)
	p := New(cache.New(cache.NewMemoryStore()), Options{Parallel: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Process(ctx, engine.WorkUnit{ID: "a"}, items(rs.URL+"/slow", rs.URL+"/slow?n=2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopMidPageKeepsPageForResume(t *testing.T) {
	rs := newResourceServer(t)
	p := New(cache.New(cache.NewMemoryStore()), Options{
		Fetch:    config.FetchConfig{ConnectTimeout: time.Second, SocketTimeout: 5 * time.Second},
		Parallel: 4,
	})
	var urls []string
	for i := 0; i < 4; i++ {
		urls = append(urls, fmt.Sprintf("%s/slow?n=%d", rs.URL, i))
	}
	store := progress.NewMemoryStore()
	e, err := engine.New(engine.Config{Progress: store, Source: pageSource(items(urls...)), Processor: p, PageSize: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	report, err := e.RunUnit(ctx, engine.WorkUnit{ID: "ds", Kind: engine.KindDataset})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, engine.StatusStopped, report.Status)

	rec, err := store.Get(context.Background(), "ds")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Zero(t, rec.TotalProcessed)
	assert.Zero(t, rec.TotalFailed)
	assert.Nil(t, rec.CompletedAt)
}
