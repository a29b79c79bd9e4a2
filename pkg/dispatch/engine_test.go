package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-relay/pkg/domain"
)

type staticConfig struct{ cfg *domain.RoutingConfig }

func (s staticConfig) Get() *domain.RoutingConfig { return s.cfg }

type stubFilter struct{ allow bool }

func (f stubFilter) Allow(context.Context, map[string]string) (bool, error) { return f.allow, nil }

func sampleAlert() domain.Alert {
	return domain.Alert{
		Alias: "GlitchTip",
		Text:  "GlitchTip Alert",
		Attachments: []domain.Attachment{{
			Title:     "ZeroDivisionError: division by zero",
			TitleLink: "https://glitchtip.example.com/acme/issues/3",
			Fields: []domain.Field{
				{Title: "Project", Value: "api"},
				{Title: "Environment", Value: "production"},
			},
		}},
		Sections: []domain.Section{{ActivitySubtitle: "View Issue [API-3](https://glitchtip.example.com/acme/issues/3)"}},
	}
}

func runtimeConfig(concurrency, retry int) domain.RuntimeConfig {
	return domain.RuntimeConfig{
		Concurrency:  concurrency,
		Timeout:      2 * time.Second,
		Retry:        retry,
		RetryBackoff: time.Millisecond,
	}
}

func feishuEndpoint(name string, urls []string, rt domain.RuntimeConfig) domain.Endpoint {
	return domain.Endpoint{
		Name:    name,
		URLs:    urls,
		Enabled: true,
		Forward: domain.FeishuRobot{Format: domain.FormatCard},
		Runtime: rt,
	}
}

func newEngine(endpoints ...domain.Endpoint) *Engine {
	cfg := domain.NewRoutingConfig(domain.DefaultServerHost, domain.DefaultServerPort, "", true, endpoints)
	return NewEngine(Options{Config: staticConfig{cfg: cfg}, Client: http.DefaultClient})
}

// statusServer answers /s/<code> with that status and counts requests.
type statusServer struct {
	*httptest.Server
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration

	mu     sync.Mutex
	bodies [][]byte
	paths  []string
}

func newStatusServer(t *testing.T, delay time.Duration) *statusServer {
	t.Helper()
	s := &statusServer{delay: delay}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		n := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}

		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		code := http.StatusOK
		if rest, ok := strings.CutPrefix(r.URL.Path, "/s/"); ok {
			if c, err := strconv.Atoi(rest); err == nil {
				code = c
			}
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = io.WriteString(w, `{"code":0,"msg":"success","data":{}}`)
			return
		}
		_, _ = io.WriteString(w, "upstream says no")
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *statusServer) url(code int) string { return fmt.Sprintf("%s/s/%d", s.URL, code) }

func TestDispatch_UnknownEndpoint(t *testing.T) {
	out, err := newEngine().Dispatch(context.Background(), "missing", sampleAlert())
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.Kind(err))
	assert.NotEqual(t, domain.KindTransport, domain.Kind(err))
	assert.Empty(t, out.Failures)
}

func TestDispatch_DisabledSendsNothing(t *testing.T) {
	srv := newStatusServer(t, 0)
	ep := feishuEndpoint("main", []string{srv.url(200)}, runtimeConfig(1, 0))
	ep.Enabled = false

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.True(t, out.Disabled)
	assert.True(t, out.OK())
	assert.Zero(t, srv.calls.Load())
}

func TestDispatch_NoDestinations(t *testing.T) {
	ep := feishuEndpoint("main", nil, runtimeConfig(1, 0))
	_, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.Kind(err))
}

func TestDispatch_SendsInteractiveCard(t *testing.T) {
	srv := newStatusServer(t, 0)
	ep := feishuEndpoint("main", []string{srv.url(200)}, runtimeConfig(1, 0))

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Equal(t, 1, out.Attempted)

	require.Len(t, srv.bodies, 1)
	var msg struct {
		MsgType string          `json:"msg_type"`
		Card    json.RawMessage `json:"card"`
	}
	require.NoError(t, json.Unmarshal(srv.bodies[0], &msg))
	assert.Equal(t, "interactive", msg.MsgType)
	assert.Contains(t, string(msg.Card), "ZeroDivisionError")
}

func TestDispatch_TextFormat(t *testing.T) {
	srv := newStatusServer(t, 0)
	ep := feishuEndpoint("main", []string{srv.url(200)}, runtimeConfig(1, 0))
	ep.Forward = domain.FeishuRobot{Format: domain.FormatText}

	_, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	require.Len(t, srv.bodies, 1)
	assert.Contains(t, string(srv.bodies[0]), `"msg_type":"text"`)
}

func TestDispatch_BoundedConcurrency(t *testing.T) {
	srv := newStatusServer(t, 50*time.Millisecond)
	ep := feishuEndpoint("main", []string{srv.url(200), srv.url(200), srv.url(200)}, runtimeConfig(2, 0))

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Equal(t, int32(3), srv.calls.Load())
	assert.LessOrEqual(t, srv.peak.Load(), int32(2))
}

func TestDispatch_SequentialPreservesOrder(t *testing.T) {
	srv := newStatusServer(t, 0)
	urls := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}
	ep := feishuEndpoint("main", urls, runtimeConfig(0, 0))

	_, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b", "/c"}, srv.paths)
	assert.Equal(t, int32(1), srv.peak.Load())
}

func TestDispatch_PartialFailure(t *testing.T) {
	srv := newStatusServer(t, 0)
	bad := srv.url(500)
	ep := feishuEndpoint("main", []string{srv.url(200), bad, srv.url(200)}, runtimeConfig(3, 0))

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.False(t, out.AllFailed())
	assert.Equal(t, fmt.Sprintf("main(%s): HTTP 500 Internal Server Error: upstream says no", bad), out.Failures[0])
	assert.Equal(t, int32(3), srv.calls.Load())
}

func TestDispatch_AllFailed(t *testing.T) {
	srv := newStatusServer(t, 0)
	ep := feishuEndpoint("main", []string{srv.url(404), srv.url(403)}, runtimeConfig(2, 0))

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.True(t, out.AllFailed())
	require.Len(t, out.Failures, 2)
	assert.True(t, strings.HasPrefix(out.Failures[0], "main("+srv.url(404)+"): HTTP 404"))
	assert.True(t, strings.HasPrefix(out.Failures[1], "main("+srv.url(403)+"): HTTP 403"))
}

func TestDispatch_UnimplementedVariantFailsFast(t *testing.T) {
	srv := newStatusServer(t, 0)
	for _, variant := range []domain.ForwardingVariant{
		domain.WecomWebhook{CorpID: "c"},
		domain.DingtalkWebhook{AccessToken: "t"},
	} {
		ep := feishuEndpoint("other", []string{srv.url(200), srv.url(200)}, runtimeConfig(1, 3))
		ep.Forward = variant

		out, err := newEngine(ep).Dispatch(context.Background(), "other", sampleAlert())
		require.NoError(t, err)
		require.Len(t, out.Failures, 2)
		assert.Contains(t, out.Failures[0], "not implemented")
		assert.Contains(t, out.Failures[0], string(variant.Kind()))
	}
	assert.Zero(t, srv.calls.Load(), "no network call for unimplemented variants")
}

func TestDispatch_FilteredSendsNothing(t *testing.T) {
	srv := newStatusServer(t, 0)
	ep := feishuEndpoint("main", []string{srv.url(200)}, runtimeConfig(1, 0))
	ep.Filter = stubFilter{allow: false}

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.True(t, out.Filtered)
	assert.Zero(t, srv.calls.Load())

	ep.Filter = stubFilter{allow: true}
	out, err = newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.False(t, out.Filtered)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestDispatch_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"code":0}`)
	}))
	t.Cleanup(srv.Close)

	ep := feishuEndpoint("main", []string{srv.URL}, runtimeConfig(1, 3))
	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatch_RetryPolicy(t *testing.T) {
	cases := []struct {
		name      string
		code      int
		retry     int
		wantCalls int32
	}{
		{"retry disabled", 500, 0, 1},
		{"retries exhausted", 502, 2, 3},
		{"client error is final", 400, 3, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newStatusServer(t, 0)
			ep := feishuEndpoint("main", []string{srv.url(tc.code)}, runtimeConfig(1, tc.retry))

			out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
			require.NoError(t, err)
			assert.Len(t, out.Failures, 1)
			assert.Equal(t, tc.wantCalls, srv.calls.Load())
		})
	}
}

func TestDispatch_FeishuErrorCodeIsFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"code":19024,"msg":"Key Words Not Found","data":{}}`)
	}))
	t.Cleanup(srv.Close)

	ep := feishuEndpoint("main", []string{srv.URL}, runtimeConfig(1, 3))
	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, fmt.Sprintf("main(%s): feishu error 19024: Key Words Not Found", srv.URL), out.Failures[0])
	assert.Equal(t, int32(1), calls.Load(), "bot errors are not retried")
}

func TestDispatch_Timeout(t *testing.T) {
	srv := newStatusServer(t, 300*time.Millisecond)
	rt := runtimeConfig(1, 0)
	rt.Timeout = 20 * time.Millisecond
	ep := feishuEndpoint("main", []string{srv.url(200)}, rt)

	out, err := newEngine(ep).Dispatch(context.Background(), "main", sampleAlert())
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Contains(t, out.Failures[0], "deadline exceeded")
}

func TestDeliver_FailuresAreTransportKind(t *testing.T) {
	srv := newStatusServer(t, 0)
	closed := httptest.NewServer(http.NotFoundHandler())
	refused := closed.URL
	closed.Close()

	ep := feishuEndpoint("main", nil, runtimeConfig(1, 0))
	e := newEngine(ep)
	body := []byte(`{"msg_type":"text"}`)

	err := e.deliver(context.Background(), ep, srv.url(500), body)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Equal(t, domain.KindTransport, domain.Kind(err))
	assert.Equal(t, "HTTP 500 Internal Server Error: upstream says no", err.Error())

	err = e.deliver(context.Background(), ep, refused, body)
	require.Error(t, err)
	assert.Equal(t, domain.KindTransport, domain.Kind(err))
	assert.NotContains(t, err.Error(), domain.ErrDeliveryFailed.Error())

	assert.NoError(t, e.deliver(context.Background(), ep, srv.url(200), body))
}

func TestDispatch_OutcomeCompleteness(t *testing.T) {
	srv := newStatusServer(t, 0)
	rapid.Check(t, func(t *rapid.T) {
		codes := rapid.SliceOfN(rapid.SampledFrom([]int{200, 404, 500}), 1, 6).Draw(t, "codes")
		concurrency := rapid.IntRange(0, 4).Draw(t, "concurrency")

		urls := make([]string, len(codes))
		var want []string
		for i, code := range codes {
			urls[i] = fmt.Sprintf("%s?i=%d", srv.url(code), i)
			if code != 200 {
				want = append(want, "main("+urls[i]+"): ")
			}
		}

		out, err := newEngine(feishuEndpoint("main", urls, runtimeConfig(concurrency, 0))).
			Dispatch(context.Background(), "main", sampleAlert())
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(out.Failures) != len(want) {
			t.Fatalf("got %d failures, want %d: %v", len(out.Failures), len(want), out.Failures)
		}
		for i, prefix := range want {
			if !strings.HasPrefix(out.Failures[i], prefix) {
				t.Fatalf("failure %d = %q, want prefix %q", i, out.Failures[i], prefix)
			}
		}
		if out.Attempted != len(codes) {
			t.Fatalf("attempted %d, want %d", out.Attempted, len(codes))
		}
	})
}
