package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/GoogleCloudPlatform/esagent/sink"
	"github.com/GoogleCloudPlatform/esagent/stats"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Coordinated is the part of a sink.Sink that the interface exposes. Drain, Checkpoint and Reset
// let an external replay coordinator drive consistency boundaries.
type Coordinated interface {
	stats.Provider
	Drain() error
	Checkpoint(id int64) error
	Reset(id int64)
	ResetToInitial()
	State() sink.State
	Buffered() int
}

// Status is the body of a /status response.
type Status struct {
	State    string         `json:"state"`
	Buffered int            `json:"buffered"`
	Stats    stats.Snapshot `json:"stats"`
}

type HttpInterface struct {
	sink Coordinated
	port int
	mux  http.ServeMux
	srv  *http.Server
}

// NewHttpInterface creates a new agent interface that listens on the given port. The interface
// must be started with a call to Start(). Metrics are collected from s and served at /metrics.
func NewHttpInterface(s Coordinated, port int) *HttpInterface {
	h := &HttpInterface{sink: s, port: port}
	registry := prometheus.NewRegistry()
	registry.MustRegister(stats.NewCollector(s))
	h.mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("/status", h.handleStatus)
	h.mux.HandleFunc("/drain", post(h.handleDrain))
	h.mux.HandleFunc("/checkpoint", post(h.handleCheckpoint))
	h.mux.HandleFunc("/reset", post(h.handleReset))
	return h
}

// Handler returns the interface's request handler.
func (h *HttpInterface) Handler() http.Handler {
	return &h.mux
}

func post(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f(w, r)
	}
}

func (h *HttpInterface) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		State:    h.sink.State().String(),
		Buffered: h.sink.Buffered(),
		Stats:    h.sink.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		glog.Warningf("http: encoding status: %v", err)
	}
}

func (h *HttpInterface) handleDrain(w http.ResponseWriter, r *http.Request) {
	if err := h.sink.Drain(); err != nil {
		glog.Errorf("http: drain failed: %v", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HttpInterface) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := checkpointId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sink.Checkpoint(id); err != nil {
		glog.Errorf("http: checkpoint %v failed: %v", id, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HttpInterface) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") == "" {
		h.sink.ResetToInitial()
		w.WriteHeader(http.StatusOK)
		return
	}
	id, err := checkpointId(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.sink.Reset(id)
	w.WriteHeader(http.StatusOK)
}

func checkpointId(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		return 0, errors.New("missing checkpoint id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint id %q", raw)
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sink.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, sink.ErrAbandoned), errors.Is(err, sink.ErrNotDrained):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Start starts the HttpInterface in the background. It returns an error immediately if background
// starting fails, but otherwise returns nil. The errHandler callback receives any errors returned
// by the underlying call to ListenAndServe(). Note that the background service may fail quickly
// after startup, such as in the case of a port already in use.
func (h *HttpInterface) Start(errHandler func(error)) error {
	if h.srv != nil {
		return errors.New("already started")
	}
	srv := &http.Server{Addr: fmt.Sprintf("localhost:%v", h.port), Handler: &h.mux}
	h.srv = srv
	go func() {
		errHandler(srv.ListenAndServe())
	}()
	return nil
}

// Shutdown initiates a graceful shutdown of the HttpInterface and blocks until the operation
// finishes.
func (h *HttpInterface) Shutdown() error {
	if h.srv == nil {
		return errors.New("not started")
	}
	err := h.srv.Shutdown(context.Background())
	h.srv = nil
	return err
}
