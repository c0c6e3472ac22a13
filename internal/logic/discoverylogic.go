package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"marketpulse/internal/svc"
	"marketpulse/internal/types"
)

type DiscoveryLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewDiscoveryLogic(ctx context.Context, svcCtx *svc.ServiceContext) *DiscoveryLogic {
	return &DiscoveryLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *DiscoveryLogic) Discovery() (*types.DiscoveryResponse, error) {
	return &types.DiscoveryResponse{Discovery: l.svcCtx.Query.Discovery()}, nil
}
