package anycodedaemon

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/anycode/anycode-backend/idl/mock/jsonrpc2mock"
	"github.com/anycode/anycode-backend/src/anycode/controller/doc-sync/docsyncmock"
	"github.com/anycode/anycode-backend/src/anycode/factory"
	"github.com/anycode/anycode-backend/src/anycode/gateway/broadcast/broadcastmock"
	"github.com/anycode/anycode-backend/src/anycode/internal/jsonrpcfx/jsonrpcfxmock"
	"github.com/anycode/anycode-backend/src/anycode/mapper"
	"github.com/anycode/anycode-backend/src/anycode/repository/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	docsync   *docsyncmock.MockController
	broadcast *broadcastmock.MockGateway
	sessions  session.Repository
	handler   *handler
}

func newTestEnv(t *testing.T) testEnv {
	ctrl := gomock.NewController(t)
	env := testEnv{
		docsync:   docsyncmock.NewMockController(ctrl),
		broadcast: broadcastmock.NewMockGateway(ctrl),
		sessions:  session.New(tally.NewTestScope("testing", nil)),
	}
	env.handler = &handler{
		docsync:   env.docsync,
		sessions:  env.sessions,
		broadcast: env.broadcast,
		logger:    zap.NewNop().Sugar(),
		stats:     tally.NoopScope,
	}
	return env
}

func TestNew(t *testing.T) {
	ctrl := gomock.NewController(t)
	testScope := tally.NewTestScope("testing", make(map[string]string, 0))

	t.Run("registers the connection manager", func(t *testing.T) {
		jsonRPCMock := jsonrpcfxmock.NewMockJSONRPCModule(ctrl)
		jsonRPCMock.EXPECT().RegisterConnectionManager(gomock.Any()).Return(nil)

		h, err := New(docsyncmock.NewMockController(ctrl), jsonRPCMock, session.New(testScope), broadcastmock.NewMockGateway(ctrl), zap.NewNop().Sugar(), testScope)
		require.NoError(t, err)
		assert.NotNil(t, h)
	})

	t.Run("registration failure", func(t *testing.T) {
		jsonRPCMock := jsonrpcfxmock.NewMockJSONRPCModule(ctrl)
		jsonRPCMock.EXPECT().RegisterConnectionManager(gomock.Any()).Return(errors.New("duplicate"))

		_, err := New(docsyncmock.NewMockController(ctrl), jsonRPCMock, session.New(testScope), broadcastmock.NewMockGateway(ctrl), zap.NewNop().Sugar(), testScope)
		assert.Error(t, err)
	})
}

func TestNewConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("create success", func(t *testing.T) {
		env := newTestEnv(t)
		var conn jsonrpc2.Conn = jsonrpc2mock.NewMockConn(gomock.NewController(t))

		env.broadcast.EXPECT().RegisterClient(gomock.Any(), gomock.Any(), &conn).Return(nil)
		router, err := env.handler.NewConnection(ctx, &conn)
		require.NoError(t, err)
		assert.IsType(t, &jsonRPCRouter{}, router)

		s, err := env.sessions.Get(ctx, router.UUID())
		require.NoError(t, err)
		assert.Equal(t, &conn, s.Conn)
	})

	t.Run("broadcast registration failure", func(t *testing.T) {
		env := newTestEnv(t)
		var conn jsonrpc2.Conn = jsonrpc2mock.NewMockConn(gomock.NewController(t))

		env.broadcast.EXPECT().RegisterClient(gomock.Any(), gomock.Any(), &conn).Return(errors.New("error"))
		_, err := env.handler.NewConnection(ctx, &conn)
		assert.Error(t, err)

		count, err := env.sessions.SessionCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestRemoveConnection(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		closeErr      error
		deregisterErr error
	}{
		{name: "clean removal"},
		{name: "failures are logged", closeErr: errors.New("close"), deregisterErr: errors.New("deregister")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var conn jsonrpc2.Conn = jsonrpc2mock.NewMockConn(gomock.NewController(t))
			env.broadcast.EXPECT().RegisterClient(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
			router, err := env.handler.NewConnection(ctx, &conn)
			require.NoError(t, err)

			env.docsync.EXPECT().CloseSession(gomock.Any(), router.UUID()).DoAndReturn(func(ctx context.Context, id uuid.UUID) error {
				resultID, err := mapper.ContextToSessionUUID(ctx)
				assert.NoError(t, err)
				assert.Equal(t, id, resultID)
				return tt.closeErr
			})
			env.broadcast.EXPECT().DeregisterClient(gomock.Any(), router.UUID()).Return(tt.deregisterErr)

			env.handler.RemoveConnection(ctx, router.UUID())

			count, err := env.sessions.SessionCount(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}

	t.Run("unknown session is left alone", func(t *testing.T) {
		// No controller or broadcast calls are expected.
		env := newTestEnv(t)
		env.handler.RemoveConnection(ctx, factory.UUID())
	})

	t.Run("second removal is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		var conn jsonrpc2.Conn = jsonrpc2mock.NewMockConn(gomock.NewController(t))
		env.broadcast.EXPECT().RegisterClient(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		router, err := env.handler.NewConnection(ctx, &conn)
		require.NoError(t, err)

		env.docsync.EXPECT().CloseSession(gomock.Any(), router.UUID()).Return(nil).Times(1)
		env.broadcast.EXPECT().DeregisterClient(gomock.Any(), router.UUID()).Return(nil).Times(1)
		env.handler.RemoveConnection(ctx, router.UUID())
		env.handler.RemoveConnection(ctx, router.UUID())
	})
}
