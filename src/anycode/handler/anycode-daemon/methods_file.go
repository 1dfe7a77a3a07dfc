package anycodedaemon

import (
	"context"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
	"github.com/anycode/anycode-backend/src/anycode/mapper"
)

func (r *jsonRPCRouter) FileOpen(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	result, err := r.docsync.Open(ctx, params.Path)
	if err != nil {
		r.failed(req, params.Path, err)
		return reply(ctx, &entity.FileErrorResult{Path: params.Path, Success: false, Error: err.Error()}, nil)
	}
	return reply(ctx, result, nil)
}

func (r *jsonRPCRouter) FileEdit(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileEditRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	err = r.docsync.ApplyEdit(ctx, params.File, params.EditOp)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) FileChange(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileChangeRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	err = r.docsync.ApplyChange(ctx, params.File, params.Edits)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) FileSave(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	file, err := r.docsync.Save(ctx, params.Path)
	if err != nil {
		r.failed(req, params.Path, err)
		return reply(ctx, &entity.FileSaveResult{Success: false, Path: params.Path, Error: err.Error()}, nil)
	}
	return reply(ctx, &entity.FileSaveResult{Success: true, File: file}, nil)
}

func (r *jsonRPCRouter) FileSet(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileSetRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	file, err := r.docsync.SetText(ctx, params.File, params.Text)
	if err != nil {
		r.failed(req, params.File, err)
		return reply(ctx, &entity.FileSaveResult{Success: false, Path: params.File, Error: err.Error()}, nil)
	}
	return reply(ctx, &entity.FileSaveResult{Success: true, File: file}, nil)
}

func (r *jsonRPCRouter) FileCreate(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCreateRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	result, err := r.docsync.Create(ctx, *params)
	if err != nil {
		r.failed(req, params.Name, err)
		return reply(ctx, &entity.CreateResult{Success: false, IsFile: params.IsFile, Path: params.Name, Error: err.Error()}, nil)
	}
	return reply(ctx, result, nil)
}

func (r *jsonRPCRouter) FileClose(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileCloseRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	err = r.docsync.Close(ctx, params.File)
	return reply(ctx, nil, err)
}

func (r *jsonRPCRouter) FileUndo(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	result, err := r.docsync.Undo(ctx, params.Path)
	if err != nil {
		return reply(ctx, &entity.FileErrorResult{Path: params.Path, Success: false, Error: err.Error()}, nil)
	}
	return reply(ctx, result, nil)
}

func (r *jsonRPCRouter) FileRedo(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToFileRequest(req)
	if err != nil {
		return badParams(ctx, reply, err)
	}

	result, err := r.docsync.Redo(ctx, params.Path)
	if err != nil {
		return reply(ctx, &entity.FileErrorResult{Path: params.Path, Success: false, Error: err.Error()}, nil)
	}
	return reply(ctx, result, nil)
}

// badParams answers a request whose params could not be mapped. Missing fields
// are reported as invalid params, anything else as a parse error.
func badParams(ctx context.Context, reply jsonrpc2.Replier, err error) error {
	code := jsonrpc2.ParseError
	if errors.IsBadRequest(err) {
		code = jsonrpc2.InvalidParams
	}
	return reply(ctx, nil, jsonrpc2.Errorf(code, "%v", err))
}

// failed logs an error that is answered with a result carrying the message.
func (r *jsonRPCRouter) failed(req jsonrpc2.Request, path string, err error) {
	r.logger.Warnw("request failed", "method", req.Method(), "path", path, zap.Stringer("uuid", r.uuid), zap.Error(err))
}
