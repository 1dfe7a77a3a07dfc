package main

import (
	"go.uber.org/fx"

	"github.com/anycode/anycode-backend/src/anycode/app"
)

func opts() fx.Option {
	return fx.Options(
		app.Module,
	)
}

func main() {
	fx.New(opts()).Run()
}
