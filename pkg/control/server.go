// Package control HTTP интерфейс моста для внешнего менеджера звонков:
// команды звонкам, список звонков, состояние и метрики Prometheus.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/ari_bridge/pkg/ari"
	"github.com/arzzra/ari_bridge/pkg/bridge"
	"github.com/arzzra/ari_bridge/pkg/rtp"
)

// Bridge операции оркестратора, доступные по HTTP. Реализуется *bridge.Orchestrator.
type Bridge interface {
	InitiateCall(ctx context.Context, req bridge.InitiateRequest) (bridge.InitiateResult, error)
	HangupCall(ctx context.Context, providerCallID string) error
	PlayTTS(ctx context.Context, providerCallID, text string) error
	StartListening(ctx context.Context, providerCallID string) error
	StopListening(ctx context.Context, providerCallID string) error
	Call(providerCallID string) (bridge.CallInfo, bool)
	Calls() []bridge.CallInfo
}

// ServerConfig зависимости сервера
type ServerConfig struct {
	Bridge Bridge
	// Connected состояние потока событий ARI для /healthz
	Connected func() bool
	// Gatherer источник метрик для /metrics, nil отключает маршрут
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server маршрутизатор команд
type Server struct {
	bridge    Bridge
	connected func() bool
	router    *mux.Router
	logger    *slog.Logger
}

type speakRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer создает сервер и регистрирует маршруты
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connected := config.Connected
	if connected == nil {
		connected = func() bool { return true }
	}

	s := &Server{
		bridge:    config.Bridge,
		connected: connected,
		router:    mux.NewRouter(),
		logger:    logger.With(slog.String("component", "control")),
	}

	s.router.HandleFunc("/calls", s.handleInitiate).Methods(http.MethodPost)
	s.router.HandleFunc("/calls", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/calls/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/calls/{id}/hangup", s.handleHangup).Methods(http.MethodPost)
	s.router.HandleFunc("/calls/{id}/speak", s.handleSpeak).Methods(http.MethodPost)
	s.router.HandleFunc("/calls/{id}/listen/start", s.handleListen(true)).Methods(http.MethodPost)
	s.router.HandleFunc("/calls/{id}/listen/stop", s.handleListen(false)).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if config.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return s
}

// ServeHTTP реализует http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe обслуживает addr до отмены ctx
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Запуск HTTP сервера управления", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req bridge.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректный JSON"})
		return
	}

	result, err := s.bridge.InitiateCall(r.Context(), req)
	if err != nil {
		s.writeError(w, "initiate", err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Calls())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := s.bridge.Call(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "get", bridge.ErrCallNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.HangupCall(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, "hangup", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ожидается непустой text"})
		return
	}
	if err := s.bridge.PlayTTS(r.Context(), mux.Vars(r)["id"], req.Text); err != nil {
		s.writeError(w, "speak", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListen(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var err error
		if start {
			err = s.bridge.StartListening(r.Context(), id)
		} else {
			err = s.bridge.StopListening(r.Context(), id)
		}
		if err != nil {
			s.writeError(w, "listen", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor сопоставляет ошибку оркестратора HTTP коду
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, ari.ErrInvalidDestination):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrNoSpeechSynthesis):
		return http.StatusNotImplemented
	case errors.Is(err, rtp.ErrNoPeer), errors.Is(err, bridge.ErrCallEnded):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Ошибка выполнения команды", slog.String("op", op), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
