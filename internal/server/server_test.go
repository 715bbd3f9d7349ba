package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	bookshelf "github.com/menta2k/bookshelf-analyzer"
	"github.com/menta2k/bookshelf-analyzer/internal/config"
	"github.com/menta2k/bookshelf-analyzer/pkg/stats"
	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	resp    *bookshelf.DetectionResponse
	err     error
	payload string
	agg     *stats.Aggregator
}

func (f *fakeService) DetectBooksFromBase64(ctx context.Context, payload string) (*bookshelf.DetectionResponse, error) {
	f.payload = payload
	return f.resp, f.err
}

func (f *fakeService) Stats() stats.Snapshot {
	return f.agg.Snapshot()
}

func newTestServer(svc *fakeService) http.Handler {
	if svc.agg == nil {
		svc.agg = stats.NewAggregator()
	}
	return New(svc, config.Default().Server).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDetectBooks_OK(t *testing.T) {
	svc := &fakeService{resp: &bookshelf.DetectionResponse{
		Shelves: []types.Shelf{{
			ShelfID: 1,
			Annotations: []types.BookAnnotation{{
				Title:    "Dune",
				Author:   "Frank Herbert",
				Polygons: []types.Polygon{{{1, 1}, {3, 1}, {3, 3}}},
				XYXY:     []float64{1, 1, 3, 3},
			}},
		}},
		Message: "Successfully detected 1 books organized into 1 shelves",
	}}
	h := newTestServer(svc)

	w := do(t, h, http.MethodPost, "/api/v1/detect-books", `{"image":"data:image/png;base64,AAAA"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if svc.payload != "data:image/png;base64,AAAA" {
		t.Errorf("payload not forwarded: %q", svc.payload)
	}

	var body struct {
		Shelves []struct {
			ShelfID     int `json:"shelf_id"`
			Annotations []struct {
				Title    string     `json:"title"`
				Polygons [][][2]int `json:"polygons"`
				XYXY     []float64  `json:"xyxy"`
			} `json:"annotations"`
		} `json:"shelves"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Shelves) != 1 || body.Shelves[0].ShelfID != 1 {
		t.Fatalf("shelves: %+v", body.Shelves)
	}
	a := body.Shelves[0].Annotations[0]
	if a.Title != "Dune" || len(a.Polygons[0]) != 3 || a.XYXY[2] != 3 {
		t.Errorf("annotation: %+v", a)
	}
}

func TestDetectBooks_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid image", fmt.Errorf("%w: bad base64", bookshelf.ErrInvalidImage), http.StatusBadRequest},
		{"detector down", fmt.Errorf("%w: 403", bookshelf.ErrDetection), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("internal error: boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeService{err: tt.err})
			w := do(t, h, http.MethodPost, "/api/v1/detect-books", `{"image":"AAAA"}`)
			if w.Code != tt.status {
				t.Errorf("status: got %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["detail"] == "" {
				t.Errorf("body: %s", w.Body.String())
			}
		})
	}

	h := newTestServer(&fakeService{err: errors.New("boom")})
	w := do(t, h, http.MethodPost, "/api/v1/detect-books", `{"image":"AAAA"}`)
	if !strings.Contains(w.Body.String(), "Error processing image: boom") {
		t.Errorf("500 detail: %s", w.Body.String())
	}
}

func TestDetectBooks_BadRequest(t *testing.T) {
	h := newTestServer(&fakeService{})
	for _, body := range []string{`not json`, `{}`, `{"image":"   "}`} {
		if w := do(t, h, http.MethodPost, "/api/v1/detect-books", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status %d", body, w.Code)
		}
	}
}

func TestStats(t *testing.T) {
	agg := stats.NewAggregator()
	agg.Record(stats.RequestStats{TotalBooksDetected: 3, ValidBooks: 2})
	h := newTestServer(&fakeService{agg: agg})

	w := do(t, h, http.MethodGet, "/api/v1/books/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalRequests != 1 || snap.OverallAccuracy != 0.6667 || snap.AverageBooksPerRequest != 3 {
		t.Errorf("snapshot: %+v", snap)
	}
}

func TestIndexAndHealth(t *testing.T) {
	h := newTestServer(&fakeService{})

	w := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/detect-books") {
		t.Errorf("index: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/health", "")
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	h := newTestServer(&fakeService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/detect-books", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin: %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow credentials: %q", got)
	}
}

func TestCORS_Credentials(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		credentials bool
		origin      string
		wantOrigin  string
		wantCreds   string
	}{
		{"wildcard without credentials", []string{"*"}, false, "https://evil.example", "*", ""},
		{"listed origin without credentials", []string{"https://app.example.com"}, false, "https://app.example.com", "https://app.example.com", ""},
		{"listed origin with credentials", []string{"https://app.example.com"}, true, "https://app.example.com", "https://app.example.com", "true"},
		{"unlisted origin", []string{"https://app.example.com"}, true, "https://evil.example", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Server
			cfg.CORSOrigins = tt.origins
			cfg.CORSCredentials = tt.credentials
			h := New(&fakeService{agg: stats.NewAggregator()}, cfg).Handler()

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/detect-books", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow origin: got %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("allow credentials: got %q, want %q", got, tt.wantCreds)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	cfg := config.Default().Server
	cfg.MaxBodyMB = 1
	h := New(&fakeService{agg: stats.NewAggregator()}, cfg).Handler()

	big := `{"image":"` + strings.Repeat("A", 2<<20) + `"}`
	if w := do(t, h, http.MethodPost, "/api/v1/detect-books", big); w.Code != http.StatusBadRequest {
		t.Errorf("oversized body: status %d", w.Code)
	}
}
