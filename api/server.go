package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/matt-g-everett/genstream/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lifecycle is the part of stream.Controller driven over HTTP.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	State(ctx context.Context) stream.State
	IsLoaded(ctx context.Context) bool
	NextPTS(ctx context.Context) int64
	LastError(ctx context.Context) error
}

// Status is returned by GET /status.
type Status struct {
	State     string `json:"state"`
	Loaded    bool   `json:"loaded"`
	NextPTS   int64  `json:"nextPts"`
	Viewers   int    `json:"viewers"`
	LastError string `json:"lastError,omitempty"`
}

// Api exposes stream control, status, metrics and the viewer WebSocket.
type Api struct {
	lifecycle Lifecycle
	hub       *Hub
	gatherer  prometheus.Gatherer
}

// NewApi creates an instance of an Api.
func NewApi(lifecycle Lifecycle, hub *Hub, gatherer prometheus.Gatherer) *Api {
	a := new(Api)
	a.lifecycle = lifecycle
	a.hub = hub
	a.gatherer = gatherer
	return a
}

// Handler returns the HTTP routes.
func (a *Api) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stream/start", a.handleStart)
	mux.HandleFunc("POST /stream/stop", a.handleStop)
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	if a.hub != nil {
		mux.Handle("GET /ws", a.hub)
	}
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (a *Api) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Api) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.lifecycle.Start(ctx); err != nil {
		if errors.Is(err, stream.ErrNotLoaded) || errors.Is(err, stream.ErrStopping) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeStatus(w, r)
}

func (a *Api) handleStop(w http.ResponseWriter, r *http.Request) {
	a.lifecycle.Stop(r.Context())
	a.writeStatus(w, r)
}

func (a *Api) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeStatus(w, r)
}

func (a *Api) writeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := Status{
		State:   a.lifecycle.State(ctx).String(),
		Loaded:  a.lifecycle.IsLoaded(ctx),
		NextPTS: a.lifecycle.NextPTS(ctx),
	}
	if err := a.lifecycle.LastError(ctx); err != nil {
		status.LastError = err.Error()
	}
	if a.hub != nil {
		status.Viewers = a.hub.NumViewers(ctx)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		logger.Errorf(ctx, "unable to write the status: %v", err)
	}
}
