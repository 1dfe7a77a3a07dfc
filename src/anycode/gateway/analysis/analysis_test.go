package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/anycode/anycode-backend/idl/mock/jsonrpc2mock"
	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/factory"
	"github.com/anycode/anycode-backend/src/anycode/gateway/broadcast/broadcastmock"
)

const _path = "/home/user/project/main.go"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	g         *gateway
	conn      *jsonrpc2mock.MockConn
	broadcast *broadcastmock.MockGateway
	dials     int
	handler   jsonrpc2.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	ctrl := gomock.NewController(t)
	env := &testEnv{
		conn:      jsonrpc2mock.NewMockConn(ctrl),
		broadcast: broadcastmock.NewMockGateway(ctrl),
	}
	dial := func(ctx context.Context, address string) (jsonrpc2.Conn, error) {
		assert.Equal(t, "localhost:9257", address)
		env.dials++
		return env.conn, nil
	}
	env.g = newGateway(zap.NewNop().Sugar(), env.broadcast, map[string]string{"go": "localhost:9257"}, dial)
	t.Cleanup(func() { env.g.cancel() })
	return env
}

// expectInitialize expects the handshake sent on the first use of a connection.
func (e *testEnv) expectInitialize() {
	e.conn.EXPECT().Go(gomock.Any(), gomock.Any()).Do(func(ctx context.Context, h jsonrpc2.Handler) {
		e.handler = h
	})
	e.conn.EXPECT().Call(gomock.Any(), protocol.MethodInitialize, gomock.Any(), gomock.Any()).Return(jsonrpc2.NewNumberID(1), nil)
	e.conn.EXPECT().Notify(gomock.Any(), protocol.MethodInitialized, gomock.Any()).Return(nil)
}

func TestNew(t *testing.T) {
	ctrl := gomock.NewController(t)

	t.Run("configured servers", func(t *testing.T) {
		cfg, err := config.NewStaticProvider(map[string]interface{}{
			"analysis": map[string]interface{}{
				"servers":                map[string]interface{}{"go": "localhost:9257", "rust": "localhost:9258"},
				"handshakeTimeoutMillis": 250,
			},
		})
		require.NoError(t, err)
		lc := fxtest.NewLifecycle(t)

		g := New(Params{
			Config:    cfg,
			Logger:    zap.NewNop().Sugar(),
			Broadcast: broadcastmock.NewMockGateway(ctrl),
			Lifecycle: lc,
		})
		assert.Len(t, g.(*gateway).languages, 2)
		assert.Equal(t, 250*time.Millisecond, g.(*gateway).handshakeTimeout)
		lc.RequireStart().RequireStop()
	})

	t.Run("no servers", func(t *testing.T) {
		cfg, err := config.NewStaticProvider(map[string]interface{}{})
		require.NoError(t, err)
		lc := fxtest.NewLifecycle(t)

		g := New(Params{
			Config:    cfg,
			Logger:    zap.NewNop().Sugar(),
			Broadcast: broadcastmock.NewMockGateway(ctrl),
			Lifecycle: lc,
		})
		assert.Empty(t, g.(*gateway).languages)
		assert.Equal(t, 10*time.Second, g.(*gateway).handshakeTimeout)
		lc.RequireStart().RequireStop()
	})

	t.Run("malformed servers", func(t *testing.T) {
		cfg, err := config.NewStaticProvider(map[string]interface{}{
			"analysis": map[string]interface{}{"servers": []string{"go"}},
		})
		require.NoError(t, err)

		assert.Panics(t, func() {
			New(Params{
				Config:    cfg,
				Logger:    zap.NewNop().Sugar(),
				Broadcast: broadcastmock.NewMockGateway(ctrl),
				Lifecycle: fxtest.NewLifecycle(t),
			})
		})
	})
}

func TestUnconfiguredLanguage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	text := "x"

	assert.NoError(t, env.g.DidOpen(ctx, "text", _path, "x"))
	assert.NoError(t, env.g.DidChange(ctx, "text", _path, "y", []protocol.TextDocumentContentChangeEvent{{Text: "y"}}))
	assert.NoError(t, env.g.DidSave(ctx, "text", _path, &text))
	assert.NoError(t, env.g.DidClose(ctx, "text", _path))
	assert.Equal(t, 0, env.dials)
}

func TestDidOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()

	var sent *protocol.DidOpenTextDocumentParams
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params interface{}) error {
			sent = params.(*protocol.DidOpenTextDocumentParams)
			return nil
		})

	require.NoError(t, env.g.DidOpen(ctx, "go", _path, "package main"))
	require.NotNil(t, sent)
	assert.Equal(t, protocol.DocumentURI("file://"+_path), sent.TextDocument.URI)
	assert.Equal(t, protocol.LanguageIdentifier("go"), sent.TextDocument.LanguageID)
	assert.Equal(t, int32(1), sent.TextDocument.Version)
	assert.Equal(t, "package main", sent.TextDocument.Text)
	assert.Equal(t, 1, env.dials)
}

func TestDidChangeVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)

	var versions []int32
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidChange, gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params interface{}) error {
			p := params.(*protocol.DidChangeTextDocumentParams)
			versions = append(versions, p.TextDocument.Version)
			return nil
		}).Times(3)

	require.NoError(t, env.g.DidOpen(ctx, "go", _path, ""))
	change := []protocol.TextDocumentContentChangeEvent{{
		Range: &protocol.Range{},
		Text:  "a",
	}}
	for i := 0; i < 3; i++ {
		require.NoError(t, env.g.DidChange(ctx, "go", _path, strings.Repeat("a", i+1), change))
	}
	assert.Equal(t, []int32{2, 3, 4}, versions)

	t.Run("empty change is not sent", func(t *testing.T) {
		assert.NoError(t, env.g.DidChange(ctx, "go", _path, "aaa", nil))
	})
}

func TestDidSave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()

	var sent []*protocol.DidSaveTextDocumentParams
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidSave, gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params interface{}) error {
			sent = append(sent, params.(*protocol.DidSaveTextDocumentParams))
			return nil
		}).Times(2)

	text := "package main\n"
	require.NoError(t, env.g.DidSave(ctx, "go", _path, &text))
	require.NoError(t, env.g.DidSave(ctx, "go", _path, nil))
	require.Len(t, sent, 2)
	assert.Equal(t, text, sent[0].Text)
	assert.Empty(t, sent[1].Text)
}

func TestDidClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidClose, gomock.Any()).Return(nil)

	require.NoError(t, env.g.DidOpen(ctx, "go", _path, ""))
	require.NoError(t, env.g.DidClose(ctx, "go", _path))
	assert.NotContains(t, env.g.languages["go"].documents, _path)
}

func TestDialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.g.dial = func(ctx context.Context, address string) (jsonrpc2.Conn, error) {
		return nil, errors.New("connection refused")
	}

	err := env.g.DidOpen(context.Background(), "go", _path, "")
	assert.ErrorContains(t, err, "connection refused")
	assert.Nil(t, env.g.languages["go"].server)
}

func TestInitializeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.conn.EXPECT().Go(gomock.Any(), gomock.Any())
	env.conn.EXPECT().Call(gomock.Any(), protocol.MethodInitialize, gomock.Any(), gomock.Any()).Return(jsonrpc2.NewNumberID(1), errors.New("bad handshake"))
	env.conn.EXPECT().Close().Return(nil)

	err := env.g.DidOpen(context.Background(), "go", _path, "")
	assert.ErrorContains(t, err, "bad handshake")
	assert.Nil(t, env.g.languages["go"].server)
}

func TestNotifyFailureRedials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(errors.New("broken pipe"))
	env.conn.EXPECT().Close().Return(nil)

	err := env.g.DidOpen(ctx, "go", _path, "")
	assert.ErrorContains(t, err, "broken pipe")
	assert.Nil(t, env.g.languages["go"].server)

	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)
	assert.NoError(t, env.g.DidOpen(ctx, "go", _path, ""))
	assert.Equal(t, 2, env.dials)
}

func TestRedialReopensDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidChange, gomock.Any()).Return(errors.New("broken pipe"))
	env.conn.EXPECT().Close().Return(nil)

	comment := []protocol.TextDocumentContentChangeEvent{{Range: &protocol.Range{}, Text: "// "}}
	require.NoError(t, env.g.DidOpen(ctx, "go", _path, "package main"))
	err := env.g.DidChange(ctx, "go", _path, "// package main", comment)
	assert.ErrorContains(t, err, "broken pipe")

	redialed := jsonrpc2mock.NewMockConn(gomock.NewController(t))
	env.conn = redialed

	var (
		methods  []string
		reopened *protocol.DidOpenTextDocumentParams
		changed  *protocol.DidChangeTextDocumentParams
	)
	redialed.EXPECT().Go(gomock.Any(), gomock.Any())
	redialed.EXPECT().Call(gomock.Any(), protocol.MethodInitialize, gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params, result interface{}) (jsonrpc2.ID, error) {
			methods = append(methods, method)
			return jsonrpc2.NewNumberID(1), nil
		})
	redialed.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params interface{}) error {
			methods = append(methods, method)
			switch p := params.(type) {
			case *protocol.DidOpenTextDocumentParams:
				reopened = p
			case *protocol.DidChangeTextDocumentParams:
				changed = p
			}
			return nil
		}).Times(3)

	semicolon := []protocol.TextDocumentContentChangeEvent{{
		Range: &protocol.Range{Start: protocol.Position{Character: 15}, End: protocol.Position{Character: 15}},
		Text:  ";",
	}}
	require.NoError(t, env.g.DidChange(ctx, "go", _path, "// package main;", semicolon))
	assert.Equal(t, []string{
		protocol.MethodInitialize,
		protocol.MethodInitialized,
		protocol.MethodTextDocumentDidOpen,
		protocol.MethodTextDocumentDidChange,
	}, methods)
	require.NotNil(t, reopened)
	assert.Equal(t, "// package main", reopened.TextDocument.Text)
	assert.Equal(t, int32(2), reopened.TextDocument.Version)
	require.NotNil(t, changed)
	assert.Equal(t, int32(3), changed.TextDocument.Version)
	assert.Equal(t, 2, env.dials)
}

func TestClosedDocumentIsNotReopened(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidClose, gomock.Any()).Return(errors.New("broken pipe"))
	env.conn.EXPECT().Close().Return(nil)

	require.NoError(t, env.g.DidOpen(ctx, "go", _path, ""))
	assert.Error(t, env.g.DidClose(ctx, "go", _path))

	// Only the handshake and the save reach the new connection.
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidSave, gomock.Any()).Return(nil)
	assert.NoError(t, env.g.DidSave(ctx, "go", "/home/user/project/other.go", nil))
}

func TestHandshakeTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.g.handshakeTimeout = 10 * time.Millisecond
	env.conn.EXPECT().Go(gomock.Any(), gomock.Any())
	env.conn.EXPECT().Call(gomock.Any(), protocol.MethodInitialize, gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params, result interface{}) (jsonrpc2.ID, error) {
			<-ctx.Done()
			return jsonrpc2.NewNumberID(1), ctx.Err()
		})
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodCancelRequest, gomock.Any()).Return(nil)
	env.conn.EXPECT().Close().Return(nil)

	err := env.g.DidOpen(context.Background(), "go", _path, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, env.g.languages["go"].server)
}

func TestLanguagesDoNotWaitForEachOther(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	goConn := jsonrpc2mock.NewMockConn(ctrl)
	rustConn := jsonrpc2mock.NewMockConn(ctrl)
	conns := map[string]jsonrpc2.Conn{"localhost:9257": goConn, "localhost:9258": rustConn}
	dial := func(ctx context.Context, address string) (jsonrpc2.Conn, error) {
		return conns[address], nil
	}
	g := newGateway(zap.NewNop().Sugar(), broadcastmock.NewMockGateway(ctrl), map[string]string{"go": "localhost:9257", "rust": "localhost:9258"}, dial)
	t.Cleanup(g.cancel)

	started := make(chan struct{})
	release := make(chan struct{})
	rustConn.EXPECT().Go(gomock.Any(), gomock.Any())
	rustConn.EXPECT().Call(gomock.Any(), protocol.MethodInitialize, gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, method string, params, result interface{}) (jsonrpc2.ID, error) {
			close(started)
			<-release
			return jsonrpc2.NewNumberID(1), nil
		})
	rustConn.EXPECT().Notify(gomock.Any(), protocol.MethodInitialized, gomock.Any()).Return(nil)
	rustConn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)

	goConn.EXPECT().Go(gomock.Any(), gomock.Any())
	goConn.EXPECT().Call(gomock.Any(), protocol.MethodInitialize, gomock.Any(), gomock.Any()).Return(jsonrpc2.NewNumberID(1), nil)
	goConn.EXPECT().Notify(gomock.Any(), protocol.MethodInitialized, gomock.Any()).Return(nil)
	goConn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)

	done := make(chan error, 1)
	go func() {
		done <- g.DidOpen(ctx, "rust", "/home/user/project/main.rs", "fn main() {}")
	}()
	<-started

	// The rust handshake is still in flight.
	assert.NoError(t, g.DidOpen(ctx, "go", _path, "package main"))
	close(release)
	assert.NoError(t, <-done)
}

func TestClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)
	env.conn.EXPECT().Close().Return(errors.New("already closed"))

	require.NoError(t, env.g.DidOpen(ctx, "go", _path, ""))
	assert.Error(t, env.g.Close())
	assert.Nil(t, env.g.languages["go"].server)
	assert.Error(t, env.g.ctx.Err())
}

func TestHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.expectInitialize()
	env.conn.EXPECT().Notify(gomock.Any(), protocol.MethodTextDocumentDidOpen, gomock.Any()).Return(nil)
	require.NoError(t, env.g.DidOpen(ctx, "go", _path, ""))
	require.NotNil(t, env.handler)

	t.Run("diagnostics are relayed", func(t *testing.T) {
		params := protocol.PublishDiagnosticsParams{
			URI:         "file://" + _path,
			Diagnostics: []protocol.Diagnostic{{Message: "undefined: x"}},
		}
		env.broadcast.EXPECT().RelayToAll(gomock.Any(), entity.EventLSPDiagnostics, gomock.Any()).DoAndReturn(
			func(ctx context.Context, event string, payload interface{}) error {
				p := payload.(*protocol.PublishDiagnosticsParams)
				assert.Equal(t, params.URI, p.URI)
				return errors.New("relay failures are logged")
			})

		var replied bool
		reply := func(ctx context.Context, result interface{}, err error) error {
			replied = true
			assert.NoError(t, err)
			return nil
		}
		req := factory.JSONRPCNotification(protocol.MethodTextDocumentPublishDiagnostics, params)
		assert.NoError(t, env.handler(ctx, reply, req))
		assert.True(t, replied)
	})

	t.Run("malformed diagnostics", func(t *testing.T) {
		reply := func(ctx context.Context, result interface{}, err error) error {
			assert.Error(t, err)
			return nil
		}
		req := factory.JSONRPCNotification(protocol.MethodTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{})
		assert.NoError(t, env.handler(ctx, reply, req))
	})

	t.Run("other requests get an empty reply", func(t *testing.T) {
		reply := func(ctx context.Context, result interface{}, err error) error {
			assert.Nil(t, result)
			assert.NoError(t, err)
			return nil
		}
		req := factory.JSONRPCRequest(protocol.MethodWorkspaceConfiguration, nil)
		assert.NoError(t, env.handler(ctx, reply, req))
	})
}
