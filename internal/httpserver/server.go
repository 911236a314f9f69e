// internal/httpserver/server.go
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PetroSa2/petrosa-socket-client/internal/bridge"
	"github.com/PetroSa2/petrosa-socket-client/internal/config"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// Server инкапсулирует HTTP эндпоинты: /metrics, /healthz, /readyz, /stats.
// Handler-ы — тривиальные view поверх снапшотов bridge-а.
type Server struct {
	httpServer *http.Server
	shutdown   time.Duration
	log        *logger.Logger
}

// healthBody — JSON-тело /healthz.
type healthBody struct {
	Status        string  `json:"status"`
	Service       string  `json:"service"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// New создаёт Server поверх read-интерфейса bridge-а.
func New(cfg config.HTTPConfig, serviceName, serviceVersion string, m bridge.Metrics, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())

	mux.HandleFunc(cfg.HealthzPath, func(w http.ResponseWriter, r *http.Request) {
		snap := m.Snapshot()
		body := healthBody{
			Status:        "healthy",
			Service:       serviceName,
			Version:       serviceVersion,
			UptimeSeconds: snap.UptimeSeconds,
		}
		code := http.StatusOK
		if !m.Healthy() {
			body.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	})

	mux.HandleFunc(cfg.ReadyzPath, func(w http.ResponseWriter, r *http.Request) {
		if !m.Ready() {
			snap := m.Snapshot()
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":         "not ready",
				"upstream_state": snap.UpstreamState,
				"bus_state":      snap.BusState,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc(cfg.StatsPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdown: cfg.ShutdownTimeout,
		log:      log.Named("http-server"),
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Run запускает HTTP-сервер и блокирует до отмены ctx или фатальной ошибки запуска.
// По отмене ctx выполняется graceful shutdown с настроенным таймаутом.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	// Запускаем сервер в отдельной горутине и сразу ловим ошибки старта.
	go func() {
		s.log.Sugar().Infow("http: starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Sugar().Infow("http: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed to start: %w", err)
		}
		// errCh закрыт без ошибки => сервер завершился некритично
		return nil
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Raw().Error("http: graceful shutdown failed", zap.Error(err))
		return err
	}

	s.log.Sugar().Infow("http: server stopped gracefully")
	return nil
}
