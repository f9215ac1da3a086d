package services

import (
	"context"

	"github.com/mbocsi/accesswatch/proto"
	"github.com/mbocsi/accesswatch/store"
)

type StatsServiceImpl struct {
	repo store.Repository
}

func NewStatsService(repo store.Repository) StatsService {
	return &StatsServiceImpl{repo: repo}
}

func (ss *StatsServiceImpl) Get(ctx context.Context) (proto.DashboardStats, error) {
	s, err := ss.repo.Stats(ctx)
	if err != nil {
		return proto.DashboardStats{}, storeError(err, "Dashboard stats", "")
	}
	return s, nil
}
