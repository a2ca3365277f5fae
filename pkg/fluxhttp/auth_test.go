package fluxhttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/fluxio/pkg/flux/fluxtest"
	"github.com/vango-dev/fluxio/pkg/fluxhttp"
)

var testSecret = []byte("s3cret")

func (f *fixture) doAuth(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestTokenRequiredForWrites(t *testing.T) {
	f := newFixture(t, map[string]string{"theme": `"dark"`}, fluxhttp.WithTokenSecret(testSecret))

	good, err := fluxhttp.NewToken(testSecret, "ada", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	forged, _ := fluxhttp.NewToken([]byte("other"), "eve", time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", forged, http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"garbage", "not.a.token", http.StatusUnauthorized},
		{"valid", good, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.doAuth(t, http.MethodPut, "/nodes/theme", `"light"`, tt.token)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected a WWW-Authenticate challenge")
			}
		})
	}

	if rec := f.do(t, http.MethodGet, "/nodes/theme", ""); rec.Code != http.StatusOK {
		t.Errorf("reads need no token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/nodes/theme", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("DELETE without token: expected 401, got %d", rec.Code)
	}
	if rec := f.doAuth(t, http.MethodDelete, "/nodes/theme", "", good); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE with token: expected 204, got %d", rec.Code)
	}
}

func TestNewTokenNeedsSecret(t *testing.T) {
	if _, err := fluxhttp.NewToken(nil, "ada", 0); err == nil {
		t.Error("expected an error for an empty secret")
	}
}

func TestWatchWithoutTokenIsReadOnly(t *testing.T) {
	f := newFixture(t, map[string]string{"theme": `"dark"`}, fluxhttp.WithTokenSecret(testSecret))
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/nodes/theme/watch"

	anon, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	defer anon.Close()
	readFrame(t, anon)

	if err := anon.WriteJSON(fluxhttp.Frame{Value: json.RawMessage(`"light"`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, anon); frame.Error != "unauthorized" {
		t.Errorf("expected an unauthorized frame, got %+v", frame)
	}

	token, _ := fluxhttp.NewToken(testSecret, "ada", 0)
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	authed, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	defer authed.Close()
	readFrame(t, authed)

	if err := authed.WriteJSON(fluxhttp.Frame{Value: json.RawMessage(`"light"`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, _ := f.reg.Nodes().Get("theme")
	fluxtest.Eventually(t, "authorized write to apply", func() bool {
		return n.GetAny() == "light"
	})
}

func TestMissCache(t *testing.T) {
	f := newFixture(t, nil, fluxhttp.WithMissCache(time.Hour))
	ctx := context.Background()

	if rec := f.do(t, http.MethodGet, "/nodes/late", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	f.store.Save(ctx, "late", []byte(`1`))
	if rec := f.do(t, http.MethodGet, "/nodes/late", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected the miss to be remembered, got %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPut, "/nodes/late", `2`); rec.Code != http.StatusOK {
		t.Fatalf("put: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/nodes/late", ""); rec.Code != http.StatusOK {
		t.Errorf("expected a write to clear the miss, got %d", rec.Code)
	}
}

func TestMissCacheExpires(t *testing.T) {
	f := newFixture(t, nil, fluxhttp.WithMissCache(20*time.Millisecond))

	f.do(t, http.MethodGet, "/nodes/late", "")
	f.store.Save(context.Background(), "late", []byte(`1`))
	fluxtest.Eventually(t, "miss to expire", func() bool {
		return f.do(t, http.MethodGet, "/nodes/late", "").Code == http.StatusOK
	})
}
