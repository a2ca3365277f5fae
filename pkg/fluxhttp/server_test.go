package fluxhttp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/fluxio/pkg/flux/fluxtest"
	"github.com/vango-dev/fluxio/pkg/fluxhttp"
	"github.com/vango-dev/fluxio/pkg/persist"
	"github.com/vango-dev/fluxio/pkg/storage"
)

type fixture struct {
	store *storage.MemoryStore
	reg   *persist.Registry
	srv   *fluxhttp.Server
}

func newFixture(t *testing.T, seed map[string]string, opts ...fluxhttp.Option) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	for k, v := range seed {
		if err := store.Save(context.Background(), k, []byte(v)); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	reg := persist.NewRegistry(store, persist.WithThrottle(10*time.Millisecond))
	opts = append([]fluxhttp.Option{fluxhttp.WithGatherer(prometheus.NewRegistry())}, opts...)
	srv := fluxhttp.New(reg, opts...)
	t.Cleanup(func() {
		srv.Close()
		reg.Close(context.Background())
	})
	return &fixture{store: store, reg: reg, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeFrame(t *testing.T, rec *httptest.ResponseRecorder) fluxhttp.Frame {
	t.Helper()
	var f fluxhttp.Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &f); err != nil {
		t.Fatalf("decode frame %q: %v", rec.Body.String(), err)
	}
	return f
}

func TestGetStoredKey(t *testing.T) {
	f := newFixture(t, map[string]string{"theme": `"dark"`})

	rec := f.do(t, http.MethodGet, "/nodes/theme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	frame := decodeFrame(t, rec)
	if frame.Key != "theme" || string(frame.Value) != `"dark"` || frame.Error != "" {
		t.Errorf("unexpected frame %+v", frame)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected application/json, got %q", got)
	}
}

func TestGetUnknownKey(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/nodes/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if keys := f.reg.Keys(); len(keys) != 0 {
		t.Errorf("a read must not open unknown keys, got %v", keys)
	}
}

func TestPutCreatesAndPersists(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/nodes/volume", `7`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if frame := decodeFrame(t, rec); string(frame.Value) != "7" {
		t.Errorf("expected value 7, got %s", frame.Value)
	}

	if err := f.reg.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	data, _ := f.store.Load(context.Background(), "volume")
	if string(data) != "7" {
		t.Errorf("expected stored 7, got %q", data)
	}
}

func TestPutRejectsBadBodies(t *testing.T) {
	f := newFixture(t, nil, fluxhttp.WithMaxBody(16))
	if _, err := persist.Stored(f.reg, "count", 0, nil); err != nil {
		t.Fatalf("stored: %v", err)
	}

	tests := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"invalid json", "x", `{`, http.StatusBadRequest},
		{"wrong type", "count", `"three"`, http.StatusBadRequest},
		{"too large", "x", `"` + strings.Repeat("a", 32) + `"`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/nodes/"+tt.key, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestListMergesOpenedAndStoredKeys(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "1", "c": "3"})
	if _, err := persist.Stored(f.reg, "b", 2, nil); err != nil {
		t.Fatalf("stored: %v", err)
	}
	if _, err := persist.Stored(f.reg, "a", 0, nil); err != nil {
		t.Fatalf("stored: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/nodes", "")
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(body.Keys, []string{"a", "b", "c"}) {
		t.Errorf("unexpected keys %v", body.Keys)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, map[string]string{"theme": `"dark"`})
	f.do(t, http.MethodGet, "/nodes/theme", "")

	rec := f.do(t, http.MethodDelete, "/nodes/theme", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.store.Count() != 0 {
		t.Errorf("expected empty store, got %d values", f.store.Count())
	}
	if rec := f.do(t, http.MethodGet, "/nodes/theme", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestReadOnly(t *testing.T) {
	f := newFixture(t, map[string]string{"theme": `"dark"`}, fluxhttp.WithReadOnly(true))

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		if rec := f.do(t, method, "/nodes/theme", `"light"`); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rec.Code)
		}
	}
	if rec := f.do(t, http.MethodGet, "/nodes/theme", ""); rec.Code != http.StatusOK {
		t.Errorf("GET: expected 200, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if f.store.Count() != 0 {
		t.Error("probe must clean up after itself")
	}

	f.store.Close()
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for a closed store, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "fluxio_test_total",
		Help: "test counter",
	}).Inc()

	f := newFixture(t, nil, fluxhttp.WithGatherer(reg))
	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fluxio_test_total 1") {
		t.Errorf("expected counter in output, got:\n%s", rec.Body)
	}

	off := newFixture(t, nil, fluxhttp.WithGatherer(nil))
	if rec := off.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a gatherer, got %d", rec.Code)
	}
}

func dialWatch(t *testing.T, f *fixture, key string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/nodes/" + key + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) fluxhttp.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f fluxhttp.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWatchStream(t *testing.T) {
	f := newFixture(t, map[string]string{"theme": `"dark"`})
	conn := dialWatch(t, f, "theme")

	if frame := readFrame(t, conn); string(frame.Value) != `"dark"` {
		t.Fatalf("expected current value first, got %+v", frame)
	}

	n, ok := f.reg.Nodes().Get("theme")
	if !ok {
		t.Fatal("watch should have opened the key")
	}
	if err := n.SetAny("light"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if frame := readFrame(t, conn); string(frame.Value) != `"light"` {
		t.Errorf("expected light, got %+v", frame)
	}

	if err := conn.WriteJSON(fluxhttp.Frame{Value: json.RawMessage(`"blue"`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	fluxtest.Eventually(t, "client value to apply", func() bool {
		return n.GetAny() == "blue"
	})
	if frame := readFrame(t, conn); string(frame.Value) != `"blue"` {
		t.Errorf("expected the client write to be echoed, got %+v", frame)
	}
}

func TestWatchErrorFrames(t *testing.T) {
	f := newFixture(t, nil)
	n, err := persist.Stored(f.reg, "count", 1, nil)
	if err != nil {
		t.Fatalf("stored: %v", err)
	}
	<-f.reg.Loaded("count")
	conn := dialWatch(t, f, "count")
	readFrame(t, conn)

	if err := conn.WriteJSON(fluxhttp.Frame{Value: json.RawMessage(`"x"`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Error == "" || frame.Value != nil {
		t.Errorf("expected an error frame for a bad value, got %+v", frame)
	}
	if n.Get() != 1 {
		t.Errorf("expected value to be kept, got %d", n.Get())
	}
}

func TestCloseDisconnectsWatchers(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWatch(t, f, "theme")
	readFrame(t, conn)

	f.srv.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}
