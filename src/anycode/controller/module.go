package controller

import (
	"go.uber.org/fx"

	docsync "github.com/anycode/anycode-backend/src/anycode/controller/doc-sync"
)

var Module = fx.Options(
	fx.Provide(docsync.New),
)
