package service

import (
	"context"

	"habitquest_backend/internal/model"

	"golang.org/x/sync/errgroup"
)

// Overview 首页聚合数据
type Overview struct {
	State     *ProgressionState   `json:"state"`
	RecentLog []model.ActivityLog `json:"recentLog"`
	Guild     *GuildDetail        `json:"guild,omitempty"`
	Sync      *SyncStatus         `json:"sync"`
}

type OverviewService struct {
	progression *ProgressionService
	guilds      *GuildService
	strava      *StravaSyncService
	recent      int
}

func NewOverviewService(progression *ProgressionService, guilds *GuildService, strava *StravaSyncService) *OverviewService {
	return &OverviewService{progression: progression, guilds: guilds, strava: strava, recent: 10}
}

// Get 先读快照确定公会，其余三项并发读取
func (s *OverviewService) Get(ctx context.Context, playerID uint) (*Overview, error) {
	state, err := s.progression.State(ctx, playerID)
	if err != nil {
		return nil, err
	}

	out := &Overview{State: state}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logs, err := s.progression.ActivityLog(gCtx, playerID, s.recent)
		if err != nil {
			return err
		}
		out.RecentLog = logs
		return nil
	})

	g.Go(func() error {
		st, err := s.strava.Status(gCtx, playerID)
		if err != nil {
			return err
		}
		out.Sync = st
		return nil
	})

	if state.GuildID != nil {
		guildID := *state.GuildID
		g.Go(func() error {
			detail, err := s.guilds.GetGuildDetail(gCtx, guildID)
			if err != nil {
				return err
			}
			out.Guild = detail
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
