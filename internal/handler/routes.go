package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"marketpulse/internal/svc"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodGet,
				Path:    "/health",
				Handler: HealthHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/tickers",
				Handler: TickersHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/tickers/:symbol",
				Handler: TickerHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/candles/:symbol/:timeframe",
				Handler: CandlesHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/discovery",
				Handler: DiscoveryHandler(serverCtx),
			},
		},
		rest.WithPrefix("/api"),
	)
}
