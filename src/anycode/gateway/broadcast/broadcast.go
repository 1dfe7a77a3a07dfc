// Package broadcast relays document events to connected editor sessions.
package broadcast

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/anycode/anycode-backend/src/anycode/mapper"
)

const (
	_nameKey          = "broadcast"
	_queueSizeKey     = "broadcast.queueSize"
	_defaultQueueSize = 256
)

// Gateway is used to relay events to the connected editor sessions.
// Relays never block the caller: each session has its own ordered outbound queue, and
// messages that do not fit are dropped.
type Gateway interface {
	// RegisterClient registers a new client with the gateway. Should be called each time a new session connects.
	RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error
	// DeregisterClient removes a client from the gateway. Should be called each time a session disconnects.
	DeregisterClient(ctx context.Context, id uuid.UUID) error

	// RelayToPeers sends a notification to every session except the one identified by ctx.
	// Without a session in ctx the notification goes to every session.
	RelayToPeers(ctx context.Context, event string, payload interface{}) error
	// RelayToAll sends a notification to every session.
	RelayToAll(ctx context.Context, event string, payload interface{}) error
}

// Params are inbound parameters to initialize the gateway.
type Params struct {
	fx.In

	Config    config.Provider
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Lifecycle fx.Lifecycle
}

type message struct {
	event   string
	payload interface{}
}

type client struct {
	conn  jsonrpc2.Conn
	queue chan message
}

type gateway struct {
	clients   map[uuid.UUID]*client
	clientsMu sync.RWMutex
	writers   sync.WaitGroup
	queueSize int
	logger    *zap.SugaredLogger
	stats     tally.Scope
}

// New returns a Gateway for relaying events to sessions.
func New(p Params) Gateway {
	queueSize := _defaultQueueSize
	if v := p.Config.Get(_queueSizeKey); v.HasValue() {
		if err := v.Populate(&queueSize); err != nil || queueSize <= 0 {
			panic("invalid broadcast.queueSize in config")
		}
	}

	g := newGateway(p.Logger, p.Stats, queueSize)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			g.close()
			return nil
		},
	})
	return g
}

func newGateway(logger *zap.SugaredLogger, stats tally.Scope, queueSize int) *gateway {
	return &gateway{
		clients:   make(map[uuid.UUID]*client),
		queueSize: queueSize,
		logger:    logger.With("plugin", _nameKey),
		stats:     stats.SubScope("broadcast"),
	}
}

func (g *gateway) RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()

	if old, ok := g.clients[id]; ok {
		close(old.queue)
	}
	c := &client{
		conn:  *conn,
		queue: make(chan message, g.queueSize),
	}
	g.clients[id] = c

	g.writers.Add(1)
	go g.write(id, c)
	return nil
}

func (g *gateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()

	if c, ok := g.clients[id]; ok {
		close(c.queue)
		delete(g.clients, id)
	}
	return nil
}

func (g *gateway) RelayToPeers(ctx context.Context, event string, payload interface{}) error {
	origin, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		origin = uuid.Nil
	}
	g.relay(origin, message{event: event, payload: payload})
	return nil
}

func (g *gateway) RelayToAll(ctx context.Context, event string, payload interface{}) error {
	g.relay(uuid.Nil, message{event: event, payload: payload})
	return nil
}

func (g *gateway) relay(exclude uuid.UUID, msg message) {
	g.clientsMu.RLock()
	defer g.clientsMu.RUnlock()

	for id, c := range g.clients {
		if id == exclude {
			continue
		}
		select {
		case c.queue <- msg:
			g.stats.Counter("relayed").Inc(1)
		default:
			g.stats.Counter("dropped").Inc(1)
			g.logger.Warnw("dropping event for slow session", "session", id, "event", msg.event)
		}
	}
}

// write delivers queued messages for one client until its queue is closed.
func (g *gateway) write(id uuid.UUID, c *client) {
	defer g.writers.Done()
	for msg := range c.queue {
		if err := c.conn.Notify(context.Background(), msg.event, msg.payload); err != nil {
			g.logger.Warnw("relaying event", "session", id, "event", msg.event, zap.Error(err))
		}
	}
}

// close deregisters every client and waits for the pending messages to be written.
func (g *gateway) close() {
	g.clientsMu.Lock()
	for id, c := range g.clients {
		close(c.queue)
		delete(g.clients, id)
	}
	g.clientsMu.Unlock()

	g.writers.Wait()
}
