package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/channel"
	"github.com/tarungka/opwire/executor"
)

type healthParams struct {
	Addr string `koanf:"addr"`
}

// ResponseModel is the envelope of every JSON response.
type ResponseModel struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type StatusResponse struct {
	Pipeline string                 `json:"pipeline"`
	Operator string                 `json:"operator"`
	Attempt  string                 `json:"attempt"`
	Phase    string                 `json:"phase"`
	Channels []channel.StatusRecord `json:"channels"`
}

// Healthcheck serves /health and /status over HTTP while the attempt runs.
type Healthcheck struct {
	name string
	addr string

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
	log zerolog.Logger
}

func NewHealthcheck(name string, params map[string]any) (executor.Plugin, error) {
	p := healthParams{Addr: "127.0.0.1:0"}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return &Healthcheck{name: name, addr: p.Addr}, nil
}

func (h *Healthcheck) Name() string { return h.name }

// Addr is the bound address once the service started.
func (h *Healthcheck) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

func (h *Healthcheck) router(c *executor.Context) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)
	router.Use(middleware.RequestID)

	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		SendResponse(w, http.StatusOK, StatusResponse{
			Pipeline: c.Pipeline(),
			Operator: c.Name(),
			Attempt:  c.Attempt(),
			Phase:    c.Phase().String(),
			Channels: c.StatusRecords(),
		}, "")
	})
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		SendResponse(w, http.StatusNotFound, nil, "not found")
	})
	return router
}

func (h *Healthcheck) OnServiceStart(_ context.Context, c *executor.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h.router(c), ReadHeaderTimeout: 5 * time.Second}

	h.mu.Lock()
	h.ln, h.srv = ln, srv
	h.log = c.Logger().With().Str("component", "healthcheck").Str("addr", ln.Addr().String()).Logger()
	h.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Err(err).Msg("healthcheck server stopped")
		}
	}()
	h.log.Info().Msg("healthcheck server listening")
	return nil
}

func (h *Healthcheck) OnServiceShutdown(ctx context.Context, _ *executor.Context) error {
	h.mu.Lock()
	srv := h.srv
	h.srv = nil
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func SendResponse(w http.ResponseWriter, status int, data any, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := ResponseModel{Success: status < 400, Data: data, Error: errorMsg}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}
