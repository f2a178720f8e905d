package controller

import (
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LeaderboardController struct {
	LeaderboardService *service.LeaderboardService
}

func NewLeaderboardController(leaderboardService *service.LeaderboardService) *LeaderboardController {
	return &LeaderboardController{LeaderboardService: leaderboardService}
}

// @Summary 玩家排行榜
// @Tags 排行榜
// @Produce json
// @Security BearerAuth
// @Param filter query string false "all_time | weekly | by_level" default(all_time)
// @Param limit query int false "数量" default(50)
// @Success 200 {object} util.Response{data=[]service.LeaderboardEntry}
// @Router /api/leaderboard [get]
func (c *LeaderboardController) Players(ctx *gin.Context) {
	filter, err := service.ParseLeaderboardFilter(ctx.Query("filter"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	limit := util.ParseLimit(ctx.Query("limit"), util.DefaultLeaderboardLimit, util.DefaultLeaderboardLimit)

	entries, err := c.LeaderboardService.Players(ctx.Request.Context(), filter, limit)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	if entries == nil {
		entries = []service.LeaderboardEntry{}
	}
	util.Success(ctx, entries)
}

// @Summary 公会排行榜
// @Tags 排行榜
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.GuildRankEntry}
// @Router /api/guilds/leaderboard [get]
func (c *LeaderboardController) Guilds(ctx *gin.Context) {
	entries, err := c.LeaderboardService.Guilds(ctx.Request.Context(), util.GuildLeaderboardLimit)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	if entries == nil {
		entries = []service.GuildRankEntry{}
	}
	util.Success(ctx, entries)
}
