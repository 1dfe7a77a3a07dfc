package mapper

import (
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"

	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
)

// RequestToFileRequest maps the parameters of file:open, file:save, file:undo and file:redo.
func RequestToFileRequest(req jsonrpc2.Request) (*entity.FileRequest, error) {
	params := entity.FileRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.Path == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}

// RequestToFileEditRequest maps the parameters of file:edit.
func RequestToFileEditRequest(req jsonrpc2.Request) (*entity.FileEditRequest, error) {
	params := entity.FileEditRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.File == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}

// RequestToFileChangeRequest maps the parameters of file:change.
func RequestToFileChangeRequest(req jsonrpc2.Request) (*entity.FileChangeRequest, error) {
	params := entity.FileChangeRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.File == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}

// RequestToFileSetRequest maps the parameters of file:set.
func RequestToFileSetRequest(req jsonrpc2.Request) (*entity.FileSetRequest, error) {
	params := entity.FileSetRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.File == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}

// RequestToFileCloseRequest maps the parameters of file:close.
func RequestToFileCloseRequest(req jsonrpc2.Request) (*entity.FileCloseRequest, error) {
	params := entity.FileCloseRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.File == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}

// RequestToCreateRequest maps the parameters of file:create.
func RequestToCreateRequest(req jsonrpc2.Request) (*entity.CreateRequest, error) {
	params := entity.CreateRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}

// RequestToDirListRequest maps the parameters of dir:list. An empty path lists the working directory.
func RequestToDirListRequest(req jsonrpc2.Request) (*entity.FileRequest, error) {
	params := entity.FileRequest{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func decode(req jsonrpc2.Request, v interface{}) error {
	if len(req.Params()) == 0 {
		return wrapErrParse(errors.NoMessageOnWireError)
	}
	if err := json.Unmarshal(req.Params(), v); err != nil {
		return wrapErrParse(err)
	}
	return nil
}

func wrapErrParse(err error) error {
	return fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)
}
