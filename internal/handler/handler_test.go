package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ClareAI/astra-sip-bridge/internal/agent"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/ClareAI/astra-sip-bridge/internal/outbound"
	"github.com/ClareAI/astra-sip-bridge/internal/session"
	"github.com/ClareAI/astra-sip-bridge/internal/tools"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testKey = "s3cret-key"

type fakeRuntime struct {
	mu       sync.Mutex
	requests []agent.Request
	ended    []string
	reply    string
	err      error
}

func (f *fakeRuntime) Query(_ context.Context, req agent.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeRuntime) EndSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
}

type fakeResolver struct {
	res identity.Resolution
	err error
}

func (f *fakeResolver) ResolveIdentity(context.Context, string) (identity.Resolution, error) {
	return f.res, f.err
}

type fakePlacer struct {
	got outbound.Request
	err error
}

func (f *fakePlacer) PlaceCall(_ context.Context, req outbound.Request) (*outbound.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &outbound.Result{CallID: "out-1", Status: "initiated"}, nil
}

type testServer struct {
	handler  http.Handler
	runtime  *fakeRuntime
	registry *session.Registry
	resolver *fakeResolver
}

func newTestServer(t *testing.T, mutate func(*RouterOptions)) *testServer {
	t.Helper()
	rt := &fakeRuntime{reply: "Hello from the agent"}
	registry := session.NewRegistry()
	resolver := &fakeResolver{res: identity.Resolution{IsFirstCall: false, Identity: "hue"}}
	devices := config.NewDeviceRegistry(map[string]config.Device{
		"9000": {Name: "morpheus", AccountID: "acct-1", Prompt: "You are Morpheus."},
	})
	voice := NewVoiceHandler(rt, registry, resolver,
		map[string]string{"acct-1": "agent-main", "acct-2": "agent-other"},
		map[string]string{"acct-1": "9000"},
		devices)

	opts := RouterOptions{APIKey: testKey, Voice: voice}
	if mutate != nil {
		mutate(&opts)
	}
	return &testServer{handler: NewRouter(opts), runtime: rt, registry: registry, resolver: resolver}
}

func (s *testServer) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	prev := logger.Base()
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetBase(zap.New(core))
	t.Cleanup(func() { logger.SetBase(prev) })
	return logs
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/voice/health", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/voice/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	logs := observeLogs(t)
	s := newTestServer(t, nil)
	body := `{"prompt":"hi","callId":"c1","accountId":"acct-1"}`

	cases := map[string]string{
		"missing":    "",
		"wrong key":  "Bearer nope",
		"not bearer": "Basic " + testKey,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/voice/query", strings.NewReader(body))
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decode(t, rec)["error"])
		})
	}

	assert.Empty(t, s.runtime.requests)
	warns := logs.FilterMessage("unauthorized request").All()
	require.Len(t, warns, 3)
	for _, e := range logs.All() {
		assert.NotContains(t, fmt.Sprint(e.ContextMap()), testKey)
		assert.NotContains(t, fmt.Sprint(e.ContextMap()), "nope")
	}
}

func TestQueryMissingFields(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		body string
		want string
	}{
		{``, "missing required field: prompt"},
		{`{}`, "missing required field: prompt"},
		{`{"prompt":"hi"}`, "missing required field: callId"},
		{`{"prompt":"hi","callId":"c1"}`, "missing required field: accountId"},
		{`{"callId":"c1","accountId":"acct-1"}`, "missing required field: prompt"},
	}
	for _, tt := range tests {
		rec := s.do(http.MethodPost, "/voice/query", tt.body, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.body)
		assert.Equal(t, tt.want, decode(t, rec)["error"], tt.body)
	}

	rec := s.do(http.MethodPost, "/voice/query", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", decode(t, rec)["error"])
	assert.Empty(t, s.runtime.requests)

	rec = s.do(http.MethodPost, "/voice/end-session", ``, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing required field: callId", decode(t, rec)["error"])
}

func TestQueryUnknownAccount(t *testing.T) {
	logs := observeLogs(t)
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c1","accountId":"ghost"}`, true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no agent binding for accountId", decode(t, rec)["error"])
	assert.Zero(t, s.registry.Size())
	entries := logs.FilterMessage("no agent binding for accountId").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestQueryReusesSessionPerCall(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/voice/query",
			`{"prompt":"hi","callId":"call-A","accountId":"acct-1","peerId":"+15551234567"}`, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Hello from the agent", decode(t, rec)["response"])
	}

	require.Len(t, s.runtime.requests, 2)
	first, second := s.runtime.requests[0], s.runtime.requests[1]
	assert.Equal(t, "call-A", first.SessionID)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "agent-main", first.AgentID)
	assert.Equal(t, "+15551234567", first.PeerID)
	assert.Equal(t, "hue", first.Identity.Identity)
	assert.Equal(t, "9000", first.Device)
	assert.Equal(t, "You are Morpheus.", first.DevicePrompt)
	assert.Equal(t, 1, s.registry.Size())
}

func TestQueryEmptyReplyIsNull(t *testing.T) {
	s := newTestServer(t, nil)
	s.runtime.reply = ""

	rec := s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c1","accountId":"acct-2"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	v, present := out["response"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Empty(t, s.runtime.requests[0].Device)
}

func TestQueryRuntimeFailureIsGeneric(t *testing.T) {
	s := newTestServer(t, nil)
	s.runtime.err = errors.New("upstream exploded: secret stack detail")

	rec := s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c1","accountId":"acct-1"}`, true)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "agent unavailable", decode(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestQueryResolverFailureDegradesToFirstCall(t *testing.T) {
	s := newTestServer(t, nil)
	s.resolver.err = errors.New("directory closed")

	rec := s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c1","accountId":"acct-1","peerId":"+1555"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	got := s.runtime.requests[0].Identity
	assert.True(t, got.IsFirstCall)
	assert.Empty(t, got.Identity)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c1","accountId":"acct-1"}`, true).Code)

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/voice/end-session", `{"callId":"c1"}`, true)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["ok"])
	}

	assert.Zero(t, s.registry.Size())
	assert.Equal(t, []string{"c1"}, s.runtime.ended)

	rec := s.do(http.MethodPost, "/voice/end-session", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing required field: callId", decode(t, rec)["error"])
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"A","accountId":"acct-1"}`, true)
	s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"B","accountId":"acct-2"}`, true)
	require.Equal(t, 2, s.registry.Size())

	s.do(http.MethodPost, "/voice/end-session", `{"callId":"A"}`, true)

	assert.Equal(t, 1, s.registry.Size())
	sessionID, ok := s.registry.Get("B")
	assert.True(t, ok)
	assert.Equal(t, "B", sessionID)
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/voice/nope", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/voice/nope", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode(t, rec)["error"])

	rec = s.do(http.MethodGet, "/voice/query", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/elsewhere", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *RouterOptions) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})
	body := `{"prompt":"hi","callId":"c1","accountId":"acct-1"}`

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/voice/query", body, true).Code)
	rec := s.do(http.MethodPost, "/voice/query", body, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too many requests", decode(t, rec)["error"])

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/voice/health", "", false).Code)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, nil)
	big := `{"prompt":"` + strings.Repeat("x", MaxBodyBytes+1) + `","callId":"c1","accountId":"acct-1"}`

	rec := s.do(http.MethodPost, "/voice/query", big, true)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, s.runtime.requests)
}

func TestPeerIDOnlyLoggedAtDebug(t *testing.T) {
	logs := observeLogs(t)
	s := newTestServer(t, nil)
	const peer = "+15550009999"

	s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c1","accountId":"acct-1","peerId":"`+peer+`"}`, true)
	s.do(http.MethodPost, "/voice/query", `{"prompt":"hi","callId":"c2","accountId":"ghost","peerId":"`+peer+`"}`, true)

	sawDebug := false
	for _, e := range logs.All() {
		text := e.Message + fmt.Sprint(e.ContextMap())
		if e.Level > zapcore.DebugLevel {
			assert.NotContains(t, text, "15550009999", "peerId leaked at %s: %q", e.Level, e.Message)
		} else if strings.Contains(text, "15550009999") {
			sawDebug = true
		}
	}
	assert.True(t, sawDebug)
}

func TestToolRoutes(t *testing.T) {
	dir := identity.NewDirectory(
		identity.Links{"ops": {"sip-voice:+15550000001"}},
		nil,
		identity.NewMemoryStore(nil))
	t.Cleanup(dir.Close)
	placer := &fakePlacer{}
	s := newTestServer(t, func(o *RouterOptions) {
		o.Tools = NewToolHandler(tools.NewLinkIdentity(dir), tools.NewPlaceCall(placer, dir))
	})

	rec := s.do(http.MethodPost, "/voice/tools/link-identity", `{"name":"hue","peerId":"+15551234567"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hue", decode(t, rec)["identity"])
	assert.Equal(t, "hue", dir.Resolve("15551234567").Identity)

	rec = s.do(http.MethodPost, "/voice/tools/link-identity", `{"name":"hue"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, decode(t, rec)["ok"])

	rec = s.do(http.MethodPost, "/voice/tools/place-call", `{"to":"ops","device":"morpheus","message":"Server is down"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "out-1", decode(t, rec)["callId"])
	assert.Equal(t, "+15550000001", placer.got.To)

	rec = s.do(http.MethodPost, "/voice/tools/place-call", `{"to":"nobody","device":"morpheus","message":"hi"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/voice/tools/place-call", `{"to":"ops"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
