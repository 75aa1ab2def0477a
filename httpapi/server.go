// Package httpapi exposes the runtime over a small JSON control API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/command"
	"github.com/opd-ai/meshlink/configsync"
	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/packet"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/service"
	"github.com/opd-ai/meshlink/wire"
)

// RequestTimeout bounds every API call.
const RequestTimeout = 30 * time.Second

// Controller is the part of service.Service the API drives.
type Controller interface {
	ConnectionState() connection.State
	SyncPhase() *flow.Value[service.SyncPhase]
	ConfigSync() *flow.Value[configsync.State]
	State() *service.ServiceState
	Nodes() []*model.Node
	Node(id string) (*model.Node, bool)
	MyNodeInfo() *model.MyNodeInfo
	Messages(ctx context.Context, contactKey string) ([]*repository.Packet, error)
	MeshLog(ctx context.Context, limit int) ([]*model.MeshLog, error)
	Neighbors(num uint32) []*wire.Neighbor

	SendText(ctx context.Context, to string, channel uint32, text string, replyID uint32) (uint32, error)
	RequestConfig(ctx context.Context) error
	RequestTraceroute(ctx context.Context, dest uint32) (uint32, error)
	RequestNeighborInfo(ctx context.Context, dest uint32) (uint32, error)
	RequestReboot(ctx context.Context, dest, secs uint32) error
	RequestShutdown(ctx context.Context, dest, secs uint32) error
	RequestFactoryReset(ctx context.Context, dest uint32, full bool) error
	RequestNodeDBReset(ctx context.Context, dest uint32) error
	RemoveNode(ctx context.Context, num uint32) error
	StartRemoteConfigSync(ctx context.Context, dest uint32, sections ...configsync.Section) error
	ExportProfile(ctx context.Context) ([]byte, error)
	ImportProfile(ctx context.Context, b []byte) error
}

// Server routes HTTP requests to a Controller.
type Server struct {
	ctrl   Controller
	router chi.Router
}

// NewServer builds the router for ctrl.
func NewServer(ctrl Controller) *Server {
	s := &Server{ctrl: ctrl}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/config/refresh", s.refreshConfig)
		r.Get("/config/sync", s.configSyncState)

		r.Get("/profile", s.exportProfile)
		r.Put("/profile", s.importProfile)

		r.Get("/messages", s.listMessages)
		r.Post("/messages", s.sendMessage)
		r.Get("/meshlog", s.meshLog)
		r.Get("/responses", s.lastResponses)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.listNodes)
			r.Route("/{node}", func(r chi.Router) {
				r.Get("/", s.getNode)
				r.Delete("/", s.removeNode)
				r.Get("/neighbors", s.neighbors)
				r.Post("/traceroute", s.traceroute)
				r.Post("/neighbors", s.requestNeighbors)
				r.Post("/config-sync", s.startConfigSync)
				r.Post("/reboot", s.reboot)
				r.Post("/shutdown", s.shutdown)
				r.Post("/factory-reset", s.factoryReset)
				r.Post("/nodedb-reset", s.nodeDBReset)
			})
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "ListenAndServe",
			"addr":     addr,
		}).Info("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"function":   "requestLogger",
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "jsonResponse",
			"error":    err.Error(),
		}).Warn("Failed to write response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{
		"error": message,
		"code":  status,
	})
}

// failure maps a runtime error to a status code.
func failure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, command.ErrInvalidNodeID),
		errors.Is(err, command.ErrInvalidPort),
		errors.Is(err, command.ErrMessageTooLong),
		errors.Is(err, service.ErrEmptyProfile),
		errors.Is(err, configsync.ErrEmptySection):
		status = http.StatusBadRequest
	case errors.Is(err, configsync.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, packet.ErrNotConnected),
		errors.Is(err, service.ErrLocalNodeUnknown):
		status = http.StatusServiceUnavailable
	}
	errorResponse(w, status, err.Error())
}
