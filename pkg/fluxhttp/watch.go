package fluxhttp

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/vango-dev/fluxio/pkg/flux"
)

// watcher streams one node over one connection. Listener callbacks may run
// on any goroutine, so they only queue frames and writeLoop owns all writes.
type watcher struct {
	id       string
	key      string
	node     flux.AnyNode
	conn     *websocket.Conn
	logger   *slog.Logger
	cfg      *config
	deny     string
	frames   chan Frame
	done     chan struct{}
	stopOnce sync.Once
}

// newWatcher creates a watcher for n. A non-empty deny is sent back for
// every value the client tries to set.
func newWatcher(s *Server, conn *websocket.Conn, key string, n flux.AnyNode, deny string) *watcher {
	id := ulid.Make().String()
	return &watcher{
		id:     id,
		key:    key,
		node:   n,
		conn:   conn,
		logger: s.logger.With("watch", id, "key", key, "remote", conn.RemoteAddr().String()),
		cfg:    &s.cfg,
		deny:   deny,
		frames: make(chan Frame, s.cfg.watchBuffer),
		done:   make(chan struct{}),
	}
}

// run blocks until the client goes away or stop is called.
func (w *watcher) run() {
	w.logger.Debug("watch started")
	off := w.node.WatchAny(
		func(v any) { w.send(valueFrame(w.key, v)) },
		func(err error) { w.send(errorFrame(w.key, err)) },
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.writeLoop()
	}()

	w.readLoop()
	off()
	w.stop()
	<-writerDone
	w.logger.Debug("watch ended")
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// send queues f. A slow client loses intermediate frames, never the latest.
func (w *watcher) send(f Frame) {
	for {
		select {
		case w.frames <- f:
			return
		case <-w.done:
			return
		default:
		}
		select {
		case <-w.frames:
			w.logger.Debug("watch frame dropped")
		default:
		}
	}
}

func (w *watcher) readLoop() {
	wait := 2 * w.cfg.pingInterval
	w.conn.SetReadLimit(w.cfg.maxBody)
	w.conn.SetReadDeadline(time.Now().Add(wait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				w.logger.Warn("watch read error", "error", err)
			}
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(wait))
		w.receive(msg)
	}
}

// receive applies a client frame. Only the value matters; the key is the
// one of the stream.
func (w *watcher) receive(msg []byte) {
	if w.deny != "" {
		w.send(Frame{Key: w.key, Error: w.deny})
		return
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		w.send(errorFrame(w.key, err))
		return
	}
	if len(f.Value) == 0 {
		return
	}
	if err := w.node.SetJSON(f.Value); err != nil {
		w.send(errorFrame(w.key, err))
	}
}

func (w *watcher) writeLoop() {
	ping := time.NewTicker(w.cfg.pingInterval)
	defer ping.Stop()
	defer w.conn.Close()

	for {
		select {
		case f := <-w.frames:
			w.conn.SetWriteDeadline(time.Now().Add(w.cfg.writeTimeout))
			if err := w.conn.WriteJSON(f); err != nil {
				w.logger.Warn("watch write failed", "error", err)
				w.stop()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(w.cfg.writeTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.stop()
				return
			}
		case <-w.done:
			deadline := time.Now().Add(w.cfg.writeTimeout)
			w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
