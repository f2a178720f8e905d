package service

import (
	"context"
	"fmt"
	"sync"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/logger"

	"go.uber.org/zap"
)

type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionCompleted MissionStatus = "completed"
)

// Mission 目录项加上当天的完成状态
type Mission struct {
	config.MissionConfig
	Status MissionStatus `json:"status"`
}

// MissionReward 完成任务后的结算
type MissionReward struct {
	MissionID   string    `json:"missionId"`
	Day         string    `json:"day"`
	Progress    *XPResult `json:"progress"`
	GoldAwarded int64     `json:"goldAwarded"`
	Gold        int64     `json:"gold"`
}

// MissionService 任务目录与每日完成，奖励经由进度账本发放
type MissionService struct {
	ledger *ProgressionService
	claims MissionStore

	mu      sync.RWMutex
	catalog []config.MissionConfig
}

func NewMissionService(ledger *ProgressionService, claims MissionStore, catalog []config.MissionConfig) *MissionService {
	return &MissionService{ledger: ledger, claims: claims, catalog: catalog}
}

func (s *MissionService) UpdateCatalog(catalog []config.MissionConfig) {
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
}

func (s *MissionService) missions() []config.MissionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

func (s *MissionService) find(id string) (config.MissionConfig, bool) {
	for _, m := range s.missions() {
		if m.ID == id {
			return m, true
		}
	}
	return config.MissionConfig{}, false
}

// today 与每日重置使用同一时区
func (s *MissionService) today() string {
	return CalendarDay(s.ledger.now(), s.ledger.settings().Location())
}

// List 返回完整目录，当天已领取的标记为 completed
func (s *MissionService) List(ctx context.Context, playerID uint) ([]Mission, error) {
	claims, err := s.claims.ListMissionClaims(ctx, playerID, s.today())
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(claims))
	for _, c := range claims {
		done[c.MissionID] = struct{}{}
	}

	catalog := s.missions()
	out := make([]Mission, 0, len(catalog))
	for _, m := range catalog {
		status := MissionPending
		if _, ok := done[m.ID]; ok {
			status = MissionCompleted
		}
		out = append(out, Mission{MissionConfig: m, Status: status})
	}
	return out, nil
}

// Complete 先占用当天的完成记录，再发放经验与金币；重复完成返回 ErrMissionCompleted
func (s *MissionService) Complete(ctx context.Context, playerID uint, missionID string) (*MissionReward, error) {
	m, ok := s.find(missionID)
	if !ok {
		return nil, util.ErrMissionNotFound
	}
	if _, err := s.ledger.State(ctx, playerID); err != nil {
		return nil, err
	}

	day := s.today()
	claimed, err := s.claims.ClaimMission(ctx, &model.MissionClaim{
		PlayerID:   playerID,
		MissionID:  m.ID,
		Day:        day,
		XPReward:   m.XPReward,
		GoldReward: m.GoldReward,
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, util.ErrMissionCompleted
	}

	progress, err := s.ledger.AddXP(ctx, playerID, m.XPReward, model.ActionMission, "Mission completed: "+m.Title)
	if err != nil {
		logger.Log.Error("Mission claimed but xp grant failed",
			zap.Uint("playerId", playerID), zap.String("missionId", m.ID), zap.Error(err))
		return nil, fmt.Errorf("grant mission xp: %w", err)
	}

	gold, err := s.ledger.UpdateGold(ctx, playerID, m.GoldReward, model.ActionMission, "Mission reward: "+m.Title)
	if err != nil {
		logger.Log.Error("Mission claimed but gold reward failed",
			zap.Uint("playerId", playerID), zap.String("missionId", m.ID), zap.Error(err))
		return nil, fmt.Errorf("grant mission gold: %w", err)
	}

	logger.Log.Info("Mission completed",
		zap.Uint("playerId", playerID),
		zap.String("missionId", m.ID),
		zap.Int64("xp", m.XPReward),
		zap.Int64("gold", m.GoldReward))

	return &MissionReward{
		MissionID:   m.ID,
		Day:         day,
		Progress:    progress,
		GoldAwarded: m.GoldReward,
		Gold:        gold,
	}, nil
}
