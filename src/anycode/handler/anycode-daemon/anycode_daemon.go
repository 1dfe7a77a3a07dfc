// Package anycodedaemon implements the editor session endpoint of the anycode-daemon service.
package anycodedaemon

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	controller "github.com/anycode/anycode-backend/src/anycode/controller/doc-sync"
	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/factory"
	"github.com/anycode/anycode-backend/src/anycode/gateway/broadcast"
	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
	"github.com/anycode/anycode-backend/src/anycode/internal/jsonrpcfx"
	"github.com/anycode/anycode-backend/src/anycode/mapper"
	"github.com/anycode/anycode-backend/src/anycode/repository/session"
)

const _nameKey = "anycode-daemon"

// Handler manages the editor sessions connected over JSON-RPC.
type Handler interface {
	jsonrpcfx.ConnectionManager
}

type handler struct {
	docsync   controller.Controller
	sessions  session.Repository
	broadcast broadcast.Gateway
	logger    *zap.SugaredLogger
	stats     tally.Scope
}

// New constructs a new anycode-daemon Handler and registers it as the connection manager of the JSON-RPC module.
func New(ctrl controller.Controller, jsonrpcmod jsonrpcfx.JSONRPCModule, sessions session.Repository, b broadcast.Gateway, logger *zap.SugaredLogger, stats tally.Scope) (Handler, error) {
	h := &handler{
		docsync:   ctrl,
		sessions:  sessions,
		broadcast: b,
		logger:    logger.With("plugin", _nameKey),
		stats:     stats.SubScope("json_rpc"),
	}
	if err := jsonrpcmod.RegisterConnectionManager(h); err != nil {
		return nil, err
	}
	return h, nil
}

// NewConnection will store a new connection and return a router that includes its UUID.
func (h *handler) NewConnection(ctx context.Context, conn *jsonrpc2.Conn) (router jsonrpcfx.Router, err error) {
	id := factory.UUID()
	if err := h.sessions.Set(ctx, mapper.UUIDToSession(id, conn)); err != nil {
		return nil, fmt.Errorf("error while creating new connection: %w", err)
	}
	if err := h.broadcast.RegisterClient(ctx, id, conn); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("error while creating new connection: %w", err),
			h.sessions.Delete(ctx, id),
		)
	}

	h.logSessions(ctx, "session connected", id)

	r := jsonRPCRouter{
		docsync: h.docsync,
		uuid:    id,
		logger:  h.logger,
		stats:   h.stats,
	}
	return &r, nil
}

// RemoveConnection cleans up a closed connection, closing every document the session still had open.
// A session that is not connected is left alone.
func (h *handler) RemoveConnection(ctx context.Context, id uuid.UUID) {
	ctx = context.WithValue(ctx, entity.SessionContextKey, id)

	if _, err := h.sessions.Get(ctx, id); err != nil {
		if errors.IsSessionNotFound(err) {
			h.logger.Warnw("removing connection", zap.Error(err))
			return
		}
		h.logger.Errorw("looking up session", zap.Stringer("uuid", id), zap.Error(err))
	}

	err := multierr.Combine(
		h.docsync.CloseSession(ctx, id),
		h.broadcast.DeregisterClient(ctx, id),
		h.sessions.Delete(ctx, id),
	)
	if err != nil {
		h.logger.Errorw("cleaning up session", zap.Stringer("uuid", id), zap.Error(err))
	}
	h.logSessions(ctx, "session disconnected", id)
}

func (h *handler) logSessions(ctx context.Context, msg string, id uuid.UUID) {
	count, err := h.sessions.SessionCount(ctx)
	if err != nil {
		h.logger.Warnw("counting sessions", zap.Error(err))
		return
	}
	h.logger.Infow(msg, zap.Stringer("uuid", id), "sessions", count)
}
