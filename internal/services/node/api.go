package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/device"
)

// StatusSource is the read side of the driver plus the mode request queue.
type StatusSource interface {
	Status() (model.StatusView, bool)
	RequestMode(m entities.Mode) bool
}

// ErrorAger is the event writer (event.Writer); nil when the event log is off.
type ErrorAger interface {
	LastErrorAge() time.Duration
}

// Readiness lists the optional dependencies checked by /healthz and /readyz.
type Readiness struct {
	MQTT   mqtt.Client
	Events ErrorAger
	// MinErrorAge: un errore di scrittura più recente di così rende il nodo non pronto.
	MinErrorAge time.Duration
	// MaxStale: oltre questo ritardo dall'ultimo tick il loop è considerato fermo.
	MaxStale time.Duration
}

// Server is the local status API.
type Server struct {
	addr     string
	src      StatusSource
	ready    Readiness
	gatherer prometheus.Gatherer
	engine   *gin.Engine
	now      func() time.Time
}

func NewServer(addr string, src StatusSource, ready Readiness, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if ready.MinErrorAge <= 0 {
		ready.MinErrorAge = 30 * time.Second
	}
	s := &Server{addr: addr, src: src, ready: ready, gatherer: gatherer, engine: engine, now: time.Now}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/readyz", s.handleReady)
	s.engine.GET("/status", s.handleStatus)
	s.engine.PUT("/mode", s.handleMode)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

type depState struct {
	loop           bool
	mqttConfigured bool
	mqttConnected  bool
	eventsOK       bool
	lastErrAge     time.Duration
}

func (s *Server) deps() depState {
	st := depState{eventsOK: true, lastErrAge: -1}
	if v, ok := s.src.Status(); ok {
		st.loop = s.ready.MaxStale <= 0 || v.SnapshotTime.IsZero() || s.now().Sub(v.SnapshotTime) <= s.ready.MaxStale
	}
	if s.ready.MQTT != nil {
		st.mqttConfigured = true
		st.mqttConnected = s.ready.MQTT.IsConnectionOpen()
	}
	if s.ready.Events != nil {
		st.lastErrAge = s.ready.Events.LastErrorAge()
		st.eventsOK = st.lastErrAge > s.ready.MinErrorAge
	}
	return st
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.deps()
	status := "down"
	switch {
	case st.loop && (!st.mqttConfigured || st.mqttConnected) && st.eventsOK:
		status = "ok"
	case st.loop:
		status = "degraded"
	}
	body := gin.H{
		"status":         status,
		"loop_running":   st.loop,
		"mqtt_connected": st.mqttConnected,
		"events_ok":      st.eventsOK,
	}
	if st.lastErrAge >= 0 {
		body["last_write_error_age_sec"] = st.lastErrAge.Seconds()
	}
	if v, ok := s.src.Status(); ok {
		body["errors"] = v.Errors
		body["error_text"] = v.ErrorText
	}
	c.JSON(http.StatusOK, body)
}

// /readyz: 200 solo se il loop gira e le dipendenze configurate sono ok.
func (s *Server) handleReady(c *gin.Context) {
	st := s.deps()
	ready := st.loop && (!st.mqttConfigured || st.mqttConnected) && st.eventsOK
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready})
}

func (s *Server) handleStatus(c *gin.Context) {
	v, ok := s.src.Status()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no status yet"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleMode(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := device.ParseModePayload(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.src.RequestMode(m) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mode queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"mode": string(m)})
}
