package anycodedaemon

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	controller "github.com/anycode/anycode-backend/src/anycode/controller/doc-sync"
	"github.com/anycode/anycode-backend/src/anycode/entity"
)

type jsonRPCRouter struct {
	docsync controller.Controller
	uuid    uuid.UUID
	logger  *zap.SugaredLogger
	stats   tally.Scope
}

// HandleReq handles routing for a single request.
func (r *jsonRPCRouter) HandleReq(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	ctx = context.WithValue(ctx, entity.SessionContextKey, r.uuid)
	r.stats.Tagged(map[string]string{"method": req.Method()}).Counter("requests").Inc(1)

	switch req.Method() {
	case entity.MethodFileOpen:
		return r.FileOpen(ctx, reply, req)

	case entity.MethodFileEdit:
		return r.FileEdit(ctx, reply, req)

	case entity.MethodFileChange:
		return r.FileChange(ctx, reply, req)

	case entity.MethodFileSave:
		return r.FileSave(ctx, reply, req)

	case entity.MethodFileSet:
		return r.FileSet(ctx, reply, req)

	case entity.MethodFileCreate:
		return r.FileCreate(ctx, reply, req)

	case entity.MethodFileClose:
		return r.FileClose(ctx, reply, req)

	case entity.MethodFileUndo:
		return r.FileUndo(ctx, reply, req)

	case entity.MethodFileRedo:
		return r.FileRedo(ctx, reply, req)

	case entity.MethodDirList:
		return r.DirList(ctx, reply, req)

	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

func (r *jsonRPCRouter) UUID() uuid.UUID {
	return r.uuid
}
