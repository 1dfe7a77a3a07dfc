package mapper

import (
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
)

// PathToDocumentURI converts a canonical path into a file URI.
func PathToDocumentURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

// RequestToPublishDiagnosticsParams maps a textDocument/publishDiagnostics notification sent by an analysis service.
func RequestToPublishDiagnosticsParams(req jsonrpc2.Request) (*protocol.PublishDiagnosticsParams, error) {
	params := protocol.PublishDiagnosticsParams{}
	if err := decode(req, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, wrapErrParse(errors.NoPathOnWireError)
	}
	return &params, nil
}
