// Package analysis forwards document lifecycle notifications to per-language analysis services.
package analysis

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/gateway/broadcast"
	"github.com/anycode/anycode-backend/src/anycode/mapper"
)

const (
	_nameKey             = "analysis"
	_serversKey          = "analysis.servers"
	_handshakeTimeoutKey = "analysis.handshakeTimeoutMillis"

	_defaultHandshakeTimeoutMsec = 10000

	_errNotify = "notifying %s analysis service: %w"
)

// Gateway sends document notifications to the analysis service configured for a language.
// Notifications for a language without a configured service are silently dropped.
// After a lost connection is redialed, every document still open for the language is opened again
// with its latest text before any further notification is sent.
type Gateway interface {
	DidOpen(ctx context.Context, language, path, text string) error
	// DidChange sends changes already applied to a document, together with its resulting text.
	DidChange(ctx context.Context, language, path, text string, changes []protocol.TextDocumentContentChangeEvent) error
	DidSave(ctx context.Context, language, path string, text *string) error
	DidClose(ctx context.Context, language, path string) error
	// Close shuts down every analysis service connection.
	Close() error
}

// Params are inbound parameters to initialize the gateway.
type Params struct {
	fx.In

	Config    config.Provider
	Logger    *zap.SugaredLogger
	Broadcast broadcast.Gateway
	Lifecycle fx.Lifecycle
}

type dialFunc func(ctx context.Context, address string) (jsonrpc2.Conn, error)

type server struct {
	conn   jsonrpc2.Conn
	client protocol.Server
}

// openDocument is the state a redialed service needs to see a document again.
type openDocument struct {
	text    string
	version int32
}

// languageServer is the connection to the service of one language. Its mutex orders the
// notifications of that language and guards the connection and the open documents.
type languageServer struct {
	mu        sync.Mutex
	language  string
	address   string
	server    *server
	documents map[string]*openDocument
}

type gateway struct {
	languages        map[string]*languageServer
	dial             dialFunc
	handshakeTimeout time.Duration
	broadcast        broadcast.Gateway
	logger           *zap.SugaredLogger

	// ctx scopes the read loops of every connection and is cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Gateway dialing the services configured under analysis.servers.
func New(p Params) Gateway {
	addresses := make(map[string]string)
	if err := p.Config.Get(_serversKey).Populate(&addresses); err != nil {
		panic(fmt.Errorf("getting config field %q: %w", _serversKey, err))
	}

	timeout := _defaultHandshakeTimeoutMsec
	if err := p.Config.Get(_handshakeTimeoutKey).Populate(&timeout); err != nil {
		panic(fmt.Errorf("getting config field %q: %w", _handshakeTimeoutKey, err))
	}

	g := newGateway(p.Logger, p.Broadcast, addresses, dialTCP)
	g.handshakeTimeout = time.Duration(timeout) * time.Millisecond
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return g.Close()
		},
	})
	return g
}

func newGateway(logger *zap.SugaredLogger, b broadcast.Gateway, addresses map[string]string, dial dialFunc) *gateway {
	ctx, cancel := context.WithCancel(context.Background())
	languages := make(map[string]*languageServer, len(addresses))
	for language, address := range addresses {
		languages[language] = &languageServer{
			language:  language,
			address:   address,
			documents: make(map[string]*openDocument),
		}
	}
	return &gateway{
		languages:        languages,
		dial:             dial,
		handshakeTimeout: _defaultHandshakeTimeoutMsec * time.Millisecond,
		broadcast:        b,
		logger:           logger.With("plugin", _nameKey),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func dialTCP(ctx context.Context, address string) (jsonrpc2.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return jsonrpc2.NewConn(jsonrpc2.NewStream(c)), nil
}

func (g *gateway) DidOpen(ctx context.Context, language, path, text string) error {
	ls, ok := g.languages[language]
	if !ok {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	// A reopened document is sent once, by this call, and not replayed by a redial.
	delete(ls.documents, path)
	s, err := g.connect(ctx, ls)
	doc := &openDocument{text: text, version: 1}
	ls.documents[path] = doc
	if err != nil {
		return err
	}

	return g.check(ls, s.client.DidOpen(ctx, didOpenParams(language, path, doc)))
}

func (g *gateway) DidChange(ctx context.Context, language, path, text string, changes []protocol.TextDocumentContentChangeEvent) error {
	if len(changes) == 0 {
		return nil
	}
	ls, ok := g.languages[language]
	if !ok {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	s, err := g.connect(ctx, ls)
	doc, tracked := ls.documents[path]
	if !tracked {
		doc = &openDocument{}
		ls.documents[path] = doc
	}
	// The text is recorded even when the change is not delivered, so a redial
	// reopens the document as the registry holds it.
	doc.text = text
	doc.version++
	if err != nil {
		return err
	}

	err = s.client.DidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: mapper.PathToDocumentURI(path)},
			Version:                doc.version,
		},
		ContentChanges: changes,
	})
	return g.check(ls, err)
}

func (g *gateway) DidSave(ctx context.Context, language, path string, text *string) error {
	ls, ok := g.languages[language]
	if !ok {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	s, err := g.connect(ctx, ls)
	if err != nil {
		return err
	}

	params := &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: mapper.PathToDocumentURI(path)},
	}
	if text != nil {
		params.Text = *text
	}
	return g.check(ls, s.client.DidSave(ctx, params))
}

func (g *gateway) DidClose(ctx context.Context, language, path string) error {
	ls, ok := g.languages[language]
	if !ok {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	delete(ls.documents, path)
	s, err := g.connect(ctx, ls)
	if err != nil {
		return err
	}

	err = s.client.DidClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: mapper.PathToDocumentURI(path)},
	})
	return g.check(ls, err)
}

func (g *gateway) Close() error {
	var errs error
	for _, ls := range g.languages {
		ls.mu.Lock()
		if ls.server != nil {
			errs = multierr.Append(errs, ls.server.conn.Close())
			ls.server = nil
		}
		ls.mu.Unlock()
	}
	g.cancel()
	return errs
}

// connect returns the connection of a language, dialing and initializing it on first use.
// A new connection reopens every document still open for the language.
func (g *gateway) connect(ctx context.Context, ls *languageServer) (*server, error) {
	if ls.server != nil {
		return ls.server, nil
	}

	hctx, cancel := context.WithTimeout(ctx, g.handshakeTimeout)
	defer cancel()

	conn, err := g.dial(hctx, ls.address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s analysis service at %s: %w", ls.language, ls.address, err)
	}
	conn.Go(g.ctx, g.handler(ls.language))

	s := &server{
		conn:   conn,
		client: protocol.ServerDispatcher(conn, g.logger.Desugar()),
	}
	if _, err := s.client.Initialize(hctx, &protocol.InitializeParams{ProcessID: int32(os.Getpid())}); err != nil {
		return nil, multierr.Append(fmt.Errorf("initializing %s analysis service: %w", ls.language, err), conn.Close())
	}
	if err := s.client.Initialized(hctx, &protocol.InitializedParams{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("initializing %s analysis service: %w", ls.language, err), conn.Close())
	}
	for path, doc := range ls.documents {
		if err := s.client.DidOpen(ctx, didOpenParams(ls.language, path, doc)); err != nil {
			return nil, multierr.Append(fmt.Errorf("reopening %s in %s analysis service: %w", path, ls.language, err), conn.Close())
		}
	}

	g.logger.Infow("connected to analysis service", "language", ls.language, "address", ls.address, "reopened", len(ls.documents))
	ls.server = s
	return s, nil
}

// check drops the connection of a service that failed a notification so the next one redials.
func (g *gateway) check(ls *languageServer, err error) error {
	if err == nil {
		return nil
	}
	if ls.server != nil {
		err = multierr.Append(err, ls.server.conn.Close())
		ls.server = nil
	}
	return fmt.Errorf(_errNotify, ls.language, err)
}

func didOpenParams(language, path string, doc *openDocument) *protocol.DidOpenTextDocumentParams {
	return &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        mapper.PathToDocumentURI(path),
			LanguageID: protocol.LanguageIdentifier(language),
			Version:    doc.version,
			Text:       doc.text,
		},
	}
}

// handler answers requests an analysis service sends back and relays its diagnostics to every session.
func (g *gateway) handler(language string) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		switch req.Method() {
		case protocol.MethodTextDocumentPublishDiagnostics:
			params, err := mapper.RequestToPublishDiagnosticsParams(req)
			if err != nil {
				g.logger.Warnw("malformed diagnostics", "language", language, zap.Error(err))
				return reply(ctx, nil, err)
			}
			if err := g.broadcast.RelayToAll(ctx, entity.EventLSPDiagnostics, params); err != nil {
				g.logger.Warnw("relaying diagnostics", "language", language, zap.Error(err))
			}
			return reply(ctx, nil, nil)
		default:
			return reply(ctx, nil, nil)
		}
	}
}
