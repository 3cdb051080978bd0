package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
)

var (
	ErrTransport         = errors.New("coordinator transport failure")
	ErrMalformedResponse = errors.New("coordinator response malformed")
)

// Transport is the coordinator API as seen by the sync protocol.
type Transport interface {
	PushTelemetry(ctx context.Context, body messages.TelemetryPush) (messages.PushResponse, error)
	PollCommands(ctx context.Context) (messages.CommandPoll, error)
	ReportStatus(ctx context.Context, id entities.CommandID, report messages.CommandStatusReport) error
}

type HTTPConfig struct {
	BaseURL  string
	DeviceID string
	Timeout  time.Duration
	// il breaker si apre dopo BreakerFails fallimenti consecutivi e resta aperto BreakerOpen
	BreakerFails int
	BreakerOpen  time.Duration
	Tokens       *TokenSource
}

// HTTPTransport talks to /api/arduino/{device}/... . Push and the command
// endpoints have separate breakers so one failing path does not trip the other.
type HTTPTransport struct {
	base    string
	device  string
	client  *http.Client
	pushCB  *gobreaker.CircuitBreaker
	cmdCB   *gobreaker.CircuitBreaker
	tokens  *TokenSource
	timeout time.Duration
}

func mkCB(name string, fails int, open time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		// una risposta malformata non è un guasto di trasporto
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMalformedResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("coordinator: breaker %s %s -> %s", name, from, to)
		},
	})
}

func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.BreakerFails <= 0 {
		cfg.BreakerFails = 3
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 30 * time.Second
	}
	return &HTTPTransport{
		base:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		device:  url.PathEscape(cfg.DeviceID),
		client:  &http.Client{Timeout: cfg.Timeout},
		pushCB:  mkCB("coordinator-push", cfg.BreakerFails, cfg.BreakerOpen),
		cmdCB:   mkCB("coordinator-commands", cfg.BreakerFails, cfg.BreakerOpen),
		tokens:  cfg.Tokens,
		timeout: cfg.Timeout,
	}
}

func (t *HTTPTransport) PushTelemetry(ctx context.Context, body messages.TelemetryPush) (messages.PushResponse, error) {
	var out messages.PushResponse
	err := t.call(ctx, t.pushCB, http.MethodPost, "/api/arduino/"+t.device+"/data", body, &out)
	return out, err
}

func (t *HTTPTransport) PollCommands(ctx context.Context) (messages.CommandPoll, error) {
	var out messages.CommandPoll
	err := t.call(ctx, t.cmdCB, http.MethodGet, "/api/arduino/"+t.device+"/commands", nil, &out)
	return out, err
}

func (t *HTTPTransport) ReportStatus(ctx context.Context, id entities.CommandID, report messages.CommandStatusReport) error {
	path := "/api/arduino/" + t.device + "/commands/" + url.PathEscape(string(id)) + "/status"
	return t.call(ctx, t.cmdCB, http.MethodPost, path, report, nil)
}

func (t *HTTPTransport) call(ctx context.Context, cb *gobreaker.CircuitBreaker, method, path string, in, out any) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, t.do(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrTransport, cb.Name(), err)
	}
	return err
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t.tokens != nil {
		tok, err := t.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: sign token: %w", ErrTransport, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s -> %s", ErrTransport, method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrTransport, path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, path, err)
	}
	return nil
}
