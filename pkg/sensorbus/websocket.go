package sensorbus

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("sensorbus: websocket connection closed")

// WebSocketConn reaches the bus through a serial-to-WebSocket bridge.
// Binary messages carry raw bus bytes. A reader goroutine pumps messages so a
// read deadline never poisons the underlying connection.
type WebSocketConn struct {
	conn *websocket.Conn
	in   chan []byte
	done chan struct{}

	mu       sync.Mutex
	buf      []byte
	deadline time.Time
	readErr  error
	closeOne sync.Once
}

// OpenWebSocket dials ws:// or wss:// with optional HTTP Basic auth.
func OpenWebSocket(ctx context.Context, wsURL, username, password string, skipVerify bool) (*WebSocketConn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipVerify}
	}
	headers := http.Header{}
	if username != "" && password != "" {
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return newWebSocketConn(conn), nil
}

func newWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	w := &WebSocketConn{conn: conn, in: make(chan []byte, 16), done: make(chan struct{})}
	go w.pump()
	return w
}

func (w *WebSocketConn) pump() {
	defer close(w.in)
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		select {
		case w.in <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketConn) SetReadDeadline(t time.Time) error {
	w.mu.Lock()
	w.deadline = t
	w.mu.Unlock()
	return nil
}

// ResetInputBuffer scarta i byte già ricevuti e non letti.
func (w *WebSocketConn) ResetInputBuffer() error {
	w.mu.Lock()
	w.buf = nil
	w.mu.Unlock()
	for {
		select {
		case _, ok := <-w.in:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (w *WebSocketConn) Read(p []byte) (int, error) {
	w.mu.Lock()
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		w.mu.Unlock()
		return n, nil
	}
	deadline := w.deadline
	w.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case data, ok := <-w.in:
		if !ok {
			w.mu.Lock()
			err := w.readErr
			w.mu.Unlock()
			if err == nil {
				return 0, ErrConnectionClosed
			}
			return 0, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		n := copy(p, data)
		if n < len(data) {
			w.mu.Lock()
			w.buf = append(w.buf, data[n:]...)
			w.mu.Unlock()
		}
		return n, nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

func (w *WebSocketConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConn) Close() error {
	var err error
	w.closeOne.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}
