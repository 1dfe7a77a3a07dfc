package gateway

import (
	"go.uber.org/fx"

	"github.com/anycode/anycode-backend/src/anycode/gateway/analysis"
	"github.com/anycode/anycode-backend/src/anycode/gateway/broadcast"
)

// Module provides the outbound gateways of the service.
var Module = fx.Options(
	fx.Provide(broadcast.New),
	fx.Provide(analysis.New),
)
