package handler

import (
	"go.uber.org/fx"

	"github.com/anycode/anycode-backend/src/anycode/controller"
	docsync "github.com/anycode/anycode-backend/src/anycode/controller/doc-sync"
	handler "github.com/anycode/anycode-backend/src/anycode/handler/anycode-daemon"
	"github.com/anycode/anycode-backend/src/anycode/repository/session"
)

// Module provides the anycode-daemon session endpoint into an Fx application.
var Module = fx.Options(
	controller.Module,
	fx.Provide(session.New),
	fx.Provide(handler.New),
	fx.Invoke(func(h handler.Handler) {}),
	fx.Invoke(func(c docsync.Controller) {}),
)
