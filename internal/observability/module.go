package observability

import "go.uber.org/fx"

func Module() fx.Option {
	return fx.Module("observability",
		fx.Provide(NewMetrics),
	)
}
