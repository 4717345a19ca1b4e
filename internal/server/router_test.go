package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-export/internal/api"
	"github.com/celerix-dev/celerix-export/internal/engine"
	"github.com/celerix-dev/celerix-export/internal/metrics"
	"github.com/celerix-dev/celerix-export/internal/portal"
	"github.com/celerix-dev/celerix-export/internal/vault"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := engine.NewMemStore(nil, nil)
	if err := store.PutClient(context.Background(), schema.Client{ClientID: "c1", UserName: "Jane"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SubmitForm(context.Background(), "c1", schema.Payload{"age": schema.Number(30)}); err != nil {
		t.Fatal(err)
	}

	var observers []export.Option
	if opts.Metrics != nil {
		observers = append(observers, export.WithObserver(opts.Metrics))
	}
	h := &api.Handler{Service: portal.NewService(store, export.New(nil, observers...), nil)}
	return NewRouter(h, opts, nil)
}

func get(r *Router, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t, Options{})
	w := get(r, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("Expected ok, got %v", body)
	}
}

func TestRouter_APIRoutes(t *testing.T) {
	r := newTestRouter(t, Options{})

	if w := get(r, "/api/clients", nil); w.Code != http.StatusOK {
		t.Errorf("clients: expected 200, got %d", w.Code)
	}
	w := get(r, "/api/exports/submissions.csv?client=c1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "submissions_Jane.csv") {
		t.Errorf("Unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
	if w := get(r, "/api/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	collector := metrics.NewCollector()
	r := newTestRouter(t, Options{Metrics: collector, MetricsPath: "/metrics"})

	get(r, "/api/exports/submissions.csv", nil)
	get(r, "/health", nil)

	w := get(r, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`celerix_export_exports_total{format="csv",status="saved"} 1`,
		`celerix_export_http_requests_total{code="200",method="GET",route="/health"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}

func TestRouter_CORS(t *testing.T) {
	open := newTestRouter(t, Options{})
	w := get(open, "/health", nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected *, got %q", got)
	}

	restricted := newTestRouter(t, Options{CORSOrigins: []string{"https://portal.example"}})
	w = get(restricted, "/health", http.Header{"Origin": {"https://portal.example"}})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example" {
		t.Errorf("Expected echoed origin, got %q", got)
	}
	w = get(restricted, "/health", http.Header{"Origin": {"https://evil.example"}})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for unknown origin, got %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/clients", nil)
	rec := httptest.NewRecorder()
	restricted.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected preflight 204, got %d", rec.Code)
	}
}

func TestLimit_RejectsWhenFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	release := make(chan struct{})
	entered := make(chan struct{})

	e := gin.New()
	e.Use(limit(1))
	e.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest("GET", "/slow", nil))
		done <- w.Code
	}()
	<-entered

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("GET", "/slow", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("Expected first request to succeed, got %d", code)
	}
}

func TestRouter_ListenTLS(t *testing.T) {
	dir := t.TempDir()
	cert, err := vault.LoadOrCreateCert(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"), nil)
	if err != nil {
		t.Fatalf("LoadOrCreateCert: %v", err)
	}

	r := newTestRouter(t, Options{})
	r.SetCertificate(cert)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Listen("127.0.0.1:0") }()

	var addr string
	for i := 0; i < 20; i++ {
		time.Sleep(25 * time.Millisecond)
		if a := r.Addr(); a != nil {
			addr = a.String()
			break
		}
	}
	if addr == "" {
		t.Fatalf("Server did not start in time")
	}

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	resp, err := client.Get(fmt.Sprintf("https://%s/health", addr))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.TLS == nil {
		t.Errorf("Expected a TLS connection")
	}
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Listen returned %v after Stop", err)
	}
}
