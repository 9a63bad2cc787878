package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedCount int

func (f fixedCount) Count() int { return int(f) }

func TestRoot(t *testing.T) {
	r := NewRouter(fixedCount(0), time.Now())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK || w.Body.String() != "Bot is alive!" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	r := NewRouter(fixedCount(3), time.Now().Add(-time.Minute))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Uptime   string `json:"uptime"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Sessions != 3 || body.Uptime == "" {
		t.Errorf("unexpected body %+v", body)
	}
}
