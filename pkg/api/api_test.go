package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/americaro/quotemail/pkg/apiresponses"
	"github.com/americaro/quotemail/pkg/config"
	"github.com/americaro/quotemail/pkg/system"
)

type pingController struct {
	registerErr error
}

func (p *pingController) BasePath() string             { return "/" }
func (p *pingController) Handlers() []gin.HandlerFunc { return nil }
func (p *pingController) Register(rg *gin.RouterGroup) error {
	if p.registerErr != nil {
		return p.registerErr
	}
	rg.POST("send-email", func(c *gin.Context) {
		apiresponses.RespondSuccess(c, apiresponses.MessageSent)
	})
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Server.ListenAddress = ":0"
	cfg.Server.AllowedOrigins = []string{"https://americaro.co.kr"}
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, ready ReadyFunc) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := NewServer(zaptest.NewLogger(t), cfg, true, ready)
	t.Cleanup(s.Close)
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(system.RequestIDHeader))
}

func TestServer_Readyz(t *testing.T) {
	ready := false
	s := newTestServer(t, testConfig(), func() bool { return ready })

	w := serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Version(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info system.BuildInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, system.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	require.NoError(t, s.RegisterAll([]APIController{&pingController{}}))

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/send-email", nil)
		req.Header.Set("Origin", "https://americaro.co.kr")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := serve(s, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://americaro.co.kr", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("foreign origin rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/send-email", strings.NewReader("{}"))
		req.Header.Set("Origin", "https://evil.example")
		w := serve(s, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServer_DefaultOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = nil
	s := newTestServer(t, cfg, nil)
	require.NoError(t, s.RegisterAll([]APIController{&pingController{}}))

	req := httptest.NewRequest(http.MethodPost, "/send-email", nil)
	req.Header.Set("Origin", "https://www.americaro.co.kr")
	w := serve(s, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://www.americaro.co.kr", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_SendEndpointsAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Rate = 0.001
	cfg.RateLimit.Burst = 2
	s := newTestServer(t, cfg, nil)
	require.NoError(t, s.RegisterAll([]APIController{&pingController{}}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/send-email", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		codes = append(codes, serve(s, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health checks are not limited
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		assert.Equal(t, http.StatusOK, serve(s, req).Code)
	}
}

func TestServer_RegisterAllPropagatesErrors(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	err := s.RegisterAll([]APIController{&pingController{registerErr: errors.New("boom")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestServer_InvalidTrustedProxiesIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"not-an-ip"}
	s := newTestServer(t, cfg, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ListenAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	s := newTestServer(t, cfg, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Listen() }()

	// give ListenAndServe a moment to bind before shutting down
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after Shutdown")
	}

	// Close after Shutdown is a no-op
	s.Close()
}
