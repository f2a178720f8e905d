package controller

import (
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminController struct {
	ProgressionService *service.ProgressionService
	GuildService       *service.GuildService
}

func NewAdminController(progressionService *service.ProgressionService, guildService *service.GuildService) *AdminController {
	return &AdminController{ProgressionService: progressionService, GuildService: guildService}
}

type CorrectXPRequest struct {
	TotalXP *int64 `json:"totalXp" binding:"required"`
	Reason  string `json:"reason" binding:"required,max=200"`
}

type GrantXPRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Source      string `json:"source"`
	Description string `json:"description" binding:"max=255"`
}

// @Summary 发放经验
// @Description 管理员补发经验，source 为 mission 或 xp_gain，会正常触发升级与公会贡献
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "玩家ID"
// @Param request body GrantXPRequest true "经验"
// @Success 200 {object} util.Response{data=service.XPResult}
// @Router /api/admin/players/{id}/xp [post]
func (c *AdminController) GrantXP(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	playerID := util.MustParseUint(ctx.Param("id"))
	if playerID == 0 {
		util.BadRequest(ctx, "invalid player id")
		return
	}

	var req GrantXPRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	source := model.ActionKind(req.Source)
	switch source {
	case "":
		source = model.ActionXPGain
	case model.ActionXPGain, model.ActionMission:
	default:
		util.BadRequest(ctx, "source must be mission or xp_gain")
		return
	}
	if req.Description == "" {
		req.Description = "XP granted by administrator"
	}

	result, err := c.ProgressionService.AddXP(ctx.Request.Context(), playerID, req.Amount, source, req.Description)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	logger.Log.Info("Admin xp grant",
		zap.Uint("adminId", user.UserID),
		zap.Uint("playerId", playerID),
		zap.Int64("amount", req.Amount))
	util.Success(ctx, result)
}

// @Summary 修正玩家经验
// @Description 管理员直接设置总经验，等级从 1 级重新计算
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "玩家ID"
// @Param request body CorrectXPRequest true "修正"
// @Success 200 {object} util.Response{data=service.XPResult}
// @Router /api/admin/players/{id}/xp [put]
func (c *AdminController) CorrectXP(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	playerID := util.MustParseUint(ctx.Param("id"))
	if playerID == 0 {
		util.BadRequest(ctx, "invalid player id")
		return
	}

	var req CorrectXPRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ProgressionService.CorrectXP(ctx.Request.Context(), playerID, *req.TotalXP, req.Reason)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	logger.Log.Info("Admin xp correction",
		zap.Uint("adminId", user.UserID),
		zap.Uint("playerId", playerID),
		zap.String("reason", req.Reason))
	util.Success(ctx, result)
}

// @Summary 公会聚合核对
// @Description 比较成员贡献之和与公会总经验，只报告不修改
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "公会ID"
// @Success 200 {object} util.Response{data=service.ReconcileReport}
// @Router /api/admin/guilds/{id}/reconcile [get]
func (c *AdminController) ReconcileGuild(ctx *gin.Context) {
	report, err := c.GuildService.Reconcile(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, report)
}
