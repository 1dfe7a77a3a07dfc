package anycodedaemon

import (
	"context"

	"go.lsp.dev/jsonrpc2"

	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/mapper"
)

func (r *jsonRPCRouter) DirList(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToDirListRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	result, err := r.docsync.ListDir(ctx, params.Path)
	if err != nil {
		r.failed(req, params.Path, err)
		return reply(ctx, &entity.FileErrorResult{Path: params.Path, Success: false, Error: err.Error()}, nil)
	}
	return reply(ctx, result, nil)
}
