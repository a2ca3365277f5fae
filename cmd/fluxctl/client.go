package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/fluxio/internal/errors"
	"github.com/vango-dev/fluxio/pkg/fluxhttp"
)

// client talks to a fluxhttp server.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *client) nodeURL(key string) string {
	return c.base + "/nodes/" + url.PathEscape(key)
}

func (c *client) do(ctx context.Context, method, target string, body []byte) (*http.Response, []byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, nil, err
	}
	req.Header = c.header()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, errors.New("F060").
			WithDetailf("%s %s failed", method, target).
			WithSuggestion("Start a server with 'fluxctl serve' or pass --server").
			Wrap(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.New("F060").Wrap(err)
	}
	return resp, data, nil
}

// check turns an error response into an *errors.Error.
func check(resp *http.Response, data []byte, key string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	json.Unmarshal(data, &body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.New("F041").WithDetailf("No value stored for %q", key)
	case http.StatusUnauthorized:
		return errors.New("F043").WithDetail(msg).
			WithSuggestion("Mint a token with 'fluxctl token' and pass it with --token or FLUXCTL_TOKEN")
	}
	code := "F021"
	if resp.StatusCode == http.StatusBadRequest {
		code = "F040"
	}
	return errors.New(code).WithDetail(msg).Wrap(fmt.Errorf("server replied %s", resp.Status))
}

func (c *client) get(ctx context.Context, key string) (fluxhttp.Frame, error) {
	resp, data, err := c.do(ctx, http.MethodGet, c.nodeURL(key), nil)
	if err != nil {
		return fluxhttp.Frame{}, err
	}
	if err := check(resp, data, key); err != nil {
		return fluxhttp.Frame{}, err
	}
	var f fluxhttp.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fluxhttp.Frame{}, errors.New("F021").Wrap(err)
	}
	return f, nil
}

func (c *client) put(ctx context.Context, key string, value []byte) (fluxhttp.Frame, error) {
	resp, data, err := c.do(ctx, http.MethodPut, c.nodeURL(key), value)
	if err != nil {
		return fluxhttp.Frame{}, err
	}
	if err := check(resp, data, key); err != nil {
		return fluxhttp.Frame{}, err
	}
	var f fluxhttp.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fluxhttp.Frame{}, errors.New("F021").Wrap(err)
	}
	return f, nil
}

func (c *client) delete(ctx context.Context, key string) error {
	resp, data, err := c.do(ctx, http.MethodDelete, c.nodeURL(key), nil)
	if err != nil {
		return err
	}
	return check(resp, data, key)
}

func (c *client) keys(ctx context.Context) ([]string, error) {
	resp, data, err := c.do(ctx, http.MethodGet, c.base+"/nodes", nil)
	if err != nil {
		return nil, err
	}
	if err := check(resp, data, ""); err != nil {
		return nil, err
	}
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.New("F021").Wrap(err)
	}
	return body.Keys, nil
}

// watch calls fn for every frame of key's stream until ctx is done, the
// server closes the stream or fn returns false.
func (c *client) watch(ctx context.Context, key string, fn func(fluxhttp.Frame) bool) error {
	target := c.nodeURL(key) + "/watch"
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, c.header())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return errors.New("F041").WithDetailf("No value stored for %q", key)
		}
		return errors.New("F060").
			WithDetailf("Cannot open the watch stream for %q", key).
			Wrap(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var f fluxhttp.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.New("F061").Wrap(err)
		}
		if !fn(f) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		}
	}
}
