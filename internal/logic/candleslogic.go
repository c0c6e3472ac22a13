package logic

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpulse/internal/svc"
	"marketpulse/internal/types"
	"marketpulse/pkg/market"
)

type CandlesLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewCandlesLogic(ctx context.Context, svcCtx *svc.ServiceContext) *CandlesLogic {
	return &CandlesLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Candles returns a series oldest first. A positive Limit keeps only the newest candles.
func (l *CandlesLogic) Candles(req *types.CandlesRequest) (*types.CandlesResponse, error) {
	candles, ok := l.svcCtx.Query.Candles(req.Symbol, req.Timeframe)
	if !ok {
		return nil, fmt.Errorf("series %s/%s: %w", req.Symbol, req.Timeframe, ErrNotFound)
	}
	if req.Limit > 0 && req.Limit < len(candles) {
		candles = candles[len(candles)-req.Limit:]
	}
	return &types.CandlesResponse{
		Symbol:    market.NormalizeSymbol(req.Symbol),
		Timeframe: req.Timeframe,
		Count:     len(candles),
		Candles:   candles,
	}, nil
}
