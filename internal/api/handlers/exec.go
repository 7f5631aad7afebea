package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"workspace-orchestrator-go/internal/api/middleware"
	"workspace-orchestrator-go/internal/execbridge"
)

// SessionOpener opens interactive exec sessions into workspace pods
type SessionOpener interface {
	OpenSession(ctx context.Context, namespace, podName string, command []string) (*execbridge.Session, error)
}

// ExecHandler upgrades terminal requests to websockets and bridges them to
// the target pod
type ExecHandler struct {
	bridge SessionOpener
	logger *zap.Logger
}

// NewExecHandler creates a new exec handler
func NewExecHandler(bridge SessionOpener, logger *zap.Logger) *ExecHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecHandler{
		bridge: bridge,
		logger: logger,
	}
}

// Handle handles GET /api/v1/namespaces/{namespace}/pods/{pod}/exec
func (h *ExecHandler) Handle(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	podName := chi.URLParam(r, "pod")

	server := websocket.Server{
		// Terminal clients connect from arbitrary origins; origin policy is
		// the ingress layer's concern.
		Handshake: func(config *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			ctx := r.Context()

			session, err := h.bridge.OpenSession(ctx, namespace, podName, nil)
			if err != nil {
				h.logger.Error("failed to open exec session",
					zap.Error(err),
					zap.String("namespace", namespace),
					zap.String("pod", podName),
				)
				ws.Close()
				return
			}

			middleware.ExecSessionsTotal.Inc()
			middleware.ExecSessionsActive.Inc()
			defer middleware.ExecSessionsActive.Dec()

			if err := session.Run(ctx, execbridge.NewWebsocketConn(ws)); err != nil {
				h.logger.Warn("exec session ended with error",
					zap.Error(err),
					zap.String("namespace", namespace),
					zap.String("pod", podName),
				)
			}
		},
	}
	server.ServeHTTP(w, r)
}
