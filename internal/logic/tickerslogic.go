package logic

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpulse/internal/svc"
	"marketpulse/internal/types"
)

type TickersLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewTickersLogic(ctx context.Context, svcCtx *svc.ServiceContext) *TickersLogic {
	return &TickersLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *TickersLogic) Tickers() (*types.TickersResponse, error) {
	tickers := l.svcCtx.Query.Tickers()
	return &types.TickersResponse{Count: len(tickers), Tickers: tickers}, nil
}

func (l *TickersLogic) Ticker(req *types.TickerRequest) (*types.TickerResponse, error) {
	ticker, ok := l.svcCtx.Query.Ticker(req.Symbol)
	if !ok {
		return nil, fmt.Errorf("ticker %s: %w", req.Symbol, ErrNotFound)
	}
	return &types.TickerResponse{Ticker: ticker}, nil
}
