package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/retry"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testServer counts the requests it serves
type testServer struct {
	*httptest.Server
	requests atomic.Int32
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// newTestClient creates a client against srv that records sleeps instead of sleeping
func newTestClient(t *testing.T, baseURL string, policy retry.Policy, sleeps *[]time.Duration, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithSleeper(func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return ctx.Err()
	})}, opts...)

	client, err := New(Config{
		Owner:   "ccp-nc",
		Token:   "test-token",
		BaseURL: baseURL,
		Retry:   policy,
	}, opts...)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "owner is required")

	_, err = New(Config{Owner: "o", BaseURL: "://bad"})
	assert.Error(t, err)

	client, err := New(Config{Owner: "ccp-nc", BaseURL: "http://example.test/api"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/api/", client.gh.BaseURL.String())
	assert.Equal(t, "ccp-nc", client.Owner())
	assert.Equal(t, "repos/ccp-nc/soprano/traffic/popular/paths", client.Endpoint("soprano", traffic.MetricPaths))
}

func TestFetch_Views(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/ccp-nc/soprano/traffic/views", r.URL.Path)
		assert.Equal(t, "day", r.URL.Query().Get("per"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{
			"count": 14, "uniques": 4,
			"views": [
				{"timestamp": "2026-01-13T00:00:00Z", "count": 10, "uniques": 3},
				{"timestamp": "2026-01-14T00:00:00Z", "count": 4, "uniques": 1}
			]
		}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 3}, nil)

	payload, err := client.Fetch(context.Background(), "soprano", traffic.MetricViews)
	require.NoError(t, err)

	views, ok := payload.(*traffic.ViewsPayload)
	require.True(t, ok)
	assert.Equal(t, 14, views.Count)
	assert.Equal(t, 4, views.Uniques)
	require.Len(t, views.Views, 2)
	assert.Equal(t, time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC), views.Views[0].Timestamp)
	assert.Equal(t, 10, views.Views[0].Count)
}

func TestFetch_Clones(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/ccp-nc/soprano/traffic/clones", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"count": 3, "uniques": 2, "clones": [{"timestamp": "2026-01-14T00:00:00Z", "count": 3, "uniques": 2}]}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{}, nil)

	payload, err := client.Fetch(context.Background(), "soprano", traffic.MetricClones)
	require.NoError(t, err)
	assert.Equal(t, &traffic.ClonesPayload{
		Count: 3, Uniques: 2,
		Clones: []traffic.Point{{Timestamp: time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), Count: 3, Uniques: 2}},
	}, payload)
}

func TestFetch_ReferrersAndPaths(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/ccp-nc/soprano/traffic/popular/referrers":
			writeJSON(w, http.StatusOK, `[{"referrer": "google.com", "count": 10, "uniques": 5}, {"referrer": "github.com", "count": 3, "uniques": 2}]`)
		case "/repos/ccp-nc/soprano/traffic/popular/paths":
			writeJSON(w, http.StatusOK, `[{"path": "/ccp-nc/soprano", "title": "soprano", "count": 7, "uniques": 4}]`)
		default:
			http.NotFound(w, r)
		}
	})
	client := newTestClient(t, srv.URL, retry.Policy{}, nil)

	refs, err := client.Fetch(context.Background(), "soprano", traffic.MetricReferrers)
	require.NoError(t, err)
	assert.Equal(t, traffic.ReferrersPayload{
		{Referrer: "google.com", Count: 10, Uniques: 5},
		{Referrer: "github.com", Count: 3, Uniques: 2},
	}, refs)

	paths, err := client.Fetch(context.Background(), "soprano", traffic.MetricPaths)
	require.NoError(t, err)
	assert.Equal(t, traffic.PathsPayload{{Path: "/ccp-nc/soprano", Title: "soprano", Count: 7, Uniques: 4}}, paths)
}

func TestFetch_NotFoundIsNoData(t *testing.T) {
	var sleeps []time.Duration
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"message": "Not Found"}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 5}, &sleeps)

	payload, err := client.Fetch(context.Background(), "missing", traffic.MetricViews)
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Equal(t, int32(1), srv.requests.Load(), "404 must not be retried")
	assert.Empty(t, sleeps)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var sleeps []time.Duration
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			writeJSON(w, http.StatusBadGateway, `{"message": "Server Error"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[]`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 4, InitialDelay: time.Second, Multiplier: 2}, &sleeps)

	payload, err := client.Fetch(context.Background(), "soprano", traffic.MetricReferrers)
	require.NoError(t, err)
	assert.Equal(t, traffic.ReferrersPayload{}, payload)
	assert.Equal(t, int32(3), srv.requests.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps, "delay doubles between attempts")
}

func TestFetch_RetryExhausted(t *testing.T) {
	var sleeps []time.Duration
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"message": "boom"}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 3}, &sleeps)

	_, err := client.Fetch(context.Background(), "soprano", traffic.MetricPaths)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransport))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, traffic.MetricPaths, statusErr.Metric)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int32(3), srv.requests.Load())
}

func TestFetch_RateLimitWaitsWithoutConsumingRetries(t *testing.T) {
	var sleeps []time.Duration
	reset := time.Now().Add(-time.Second).Unix()

	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
			writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"count": 1, "uniques": 1, "views": []}`)
	})

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	fakeNow := time.Unix(reset, 0).Add(-30 * time.Second)
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 1, MaxWaits: 2}, &sleeps,
		WithClock(func() time.Time { return fakeNow }),
		WithMetrics(metrics))

	payload, err := client.Fetch(context.Background(), "soprano", traffic.MetricViews)
	require.NoError(t, err, "a single attempt budget must survive a rate limit wait")
	assert.Equal(t, 1, payload.(*traffic.ViewsPayload).Count)
	assert.Equal(t, []time.Duration{30 * time.Second}, sleeps, "sleeps until the reported reset")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitWaitsTotal.WithLabelValues("views")))
}

func TestFetch_AcceptedIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusAccepted, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"count": 2, "uniques": 1, "clones": []}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 2}, nil)

	payload, err := client.Fetch(context.Background(), "soprano", traffic.MetricClones)
	require.NoError(t, err)
	assert.Equal(t, 2, payload.(*traffic.ClonesPayload).Count)
	assert.Equal(t, int32(2), srv.requests.Load())
}

func TestFetch_TransportFailure(t *testing.T) {
	var sleeps []time.Duration
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client := newTestClient(t, baseURL, retry.Policy{MaxAttempts: 3}, &sleeps)

	_, err := client.Fetch(context.Background(), "soprano", traffic.MetricViews)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Len(t, sleeps, 2, "transport failures are retried before giving up")
}

// slowHandler answers after delay unless the client gives up first
func slowHandler(delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
			writeJSON(w, http.StatusOK, `{"count": 0, "uniques": 0, "views": []}`)
		case <-r.Context().Done():
		}
	}
}

func TestFetch_AttemptTimeoutIsRetriedAsTransport(t *testing.T) {
	var sleeps []time.Duration
	srv := newTestServer(t, slowHandler(300*time.Millisecond))

	client, err := New(Config{
		Owner:   "ccp-nc",
		Token:   "test-token",
		BaseURL: srv.URL,
		Timeout: 50 * time.Millisecond,
		Retry:   retry.Policy{MaxAttempts: 3},
	}, WithSleeper(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}))
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "soprano", traffic.MetricViews)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(3), srv.requests.Load(), "timed out attempts are retried")
	assert.Len(t, sleeps, 2)
}

func TestFetch_CallerDeadlineIsNotTransport(t *testing.T) {
	srv := newTestServer(t, slowHandler(2*time.Second))

	client, err := New(Config{
		Owner:   "ccp-nc",
		Token:   "test-token",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Retry:   retry.Policy{MaxAttempts: 3},
	}, WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Fetch(ctx, "soprano", traffic.MetricViews)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestFetch_LogsCarryContextFields(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"message": "Not Found"}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 1}, nil)

	var buf bytes.Buffer
	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.InfoLevel, &buf))
	ctx = observability.WithRunID(ctx, "run-7")
	ctx = observability.WithRepository(ctx, "soprano")

	_, err := client.Fetch(ctx, "soprano", traffic.MetricViews)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "No traffic data (404)", entry["msg"])
	assert.Equal(t, "run-7", entry["run_id"])
	assert.Equal(t, "soprano", entry["repository"])
	assert.Equal(t, "views", entry["metric"])
	assert.Equal(t, "repos/ccp-nc/soprano/traffic/views", entry["endpoint"])
	assert.Equal(t, 1, strings.Count(lines[0], `"repository"`))
}

func TestFetch_MalformedPayload(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"referrer": "google.com", "count": -1, "uniques": 1}]`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 3}, nil)

	_, err := client.Fetch(context.Background(), "soprano", traffic.MetricReferrers)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Equal(t, int32(1), srv.requests.Load(), "malformed payloads are not retried")
}

func TestFetch_WrongJSONType(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"count": "lots"}`)
	})
	client := newTestClient(t, srv.URL, retry.Policy{MaxAttempts: 3}, nil)

	_, err := client.Fetch(context.Background(), "soprano", traffic.MetricViews)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFetch_CacheAvoidsRepeatRequests(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/ccp-nc/gone/traffic/views" {
			writeJSON(w, http.StatusNotFound, `{"message": "Not Found"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[{"path": "/a", "title": "a", "count": 1, "uniques": 1}]`)
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client := newTestClient(t, srv.URL, retry.Policy{}, nil,
		WithCache(NewCache(16, time.Hour)),
		WithMetrics(metrics))

	ctx := context.Background()
	first, err := client.Fetch(ctx, "soprano", traffic.MetricPaths)
	require.NoError(t, err)
	second, err := client.Fetch(ctx, "soprano", traffic.MetricPaths)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), srv.requests.Load())

	// "no data" is cached as well
	for i := 0; i < 2; i++ {
		payload, err := client.Fetch(ctx, "gone", traffic.MetricViews)
		require.NoError(t, err)
		assert.Nil(t, payload)
	}
	assert.Equal(t, int32(2), srv.requests.Load())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("paths")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("paths")))
}

func TestFetch_UnknownMetric(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1/", retry.Policy{}, nil)
	_, err := client.Fetch(context.Background(), "soprano", traffic.Metric("forks"))
	assert.ErrorIs(t, err, traffic.ErrUnknownMetric)
}

func TestFetch_Span(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	client := newTestClient(t, srv.URL, retry.Policy{}, nil, WithTracerProvider(tp))

	_, err := client.Fetch(context.Background(), "soprano", traffic.MetricPaths)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "fetcher.Fetch", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "soprano", attrs["traffic.repository"])
	assert.Equal(t, "paths", attrs["traffic.metric"])
}
