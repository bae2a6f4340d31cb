// Package gateway dispatches RPC request frames to method handlers.
// It is transport-agnostic: whatever carries the frames (a socket, an
// embedding process, a test) hands requests to Handle and ships the
// response back itself.
package gateway

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/cronbox/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
}

func NewMethodRouter() *MethodRouter {
	r := &MethodRouter{handlers: make(map[string]MethodHandler)}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "req_id", req.ID)
		return protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method)
	}

	slog.Debug("handling method", "method", req.Method, "req_id", req.ID)
	return handler(ctx, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodPing, func(ctx context.Context, req *protocol.RequestFrame) *protocol.ResponseFrame {
		return protocol.NewOKResponse(req.ID, map[string]interface{}{"status": "ok"})
	})
}
