package controller

import (
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type GuildController struct {
	GuildService *service.GuildService
}

func NewGuildController(guildService *service.GuildService) *GuildController {
	return &GuildController{GuildService: guildService}
}

type CreateGuildRequest struct {
	Name        string `json:"name" binding:"required,max=50"`
	Description string `json:"description" binding:"max=255"`
	IsPublic    *bool  `json:"isPublic"`
}

type JoinByCodeRequest struct {
	InviteCode string `json:"inviteCode" binding:"required"`
}

type PromoteRequest struct {
	Role model.GuildRole `json:"role" binding:"required"`
}

// @Summary 创建公会
// @Tags 公会
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateGuildRequest true "公会"
// @Success 201 {object} util.Response{data=model.Guild}
// @Router /api/guilds [post]
func (c *GuildController) Create(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CreateGuildRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	guild, err := c.GuildService.CreateGuild(ctx.Request.Context(), user.UserID, req.Name, req.Description, isPublic)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Created(ctx, guild)
}

// @Summary 公会详情
// @Tags 公会
// @Produce json
// @Security BearerAuth
// @Param id path string true "公会ID"
// @Success 200 {object} util.Response{data=service.GuildDetail}
// @Router /api/guilds/{id} [get]
func (c *GuildController) Detail(ctx *gin.Context) {
	detail, err := c.GuildService.GetGuildDetail(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, detail)
}

// @Summary 加入公开公会
// @Tags 公会
// @Produce json
// @Security BearerAuth
// @Param id path string true "公会ID"
// @Success 200 {object} util.Response{data=model.Guild}
// @Failure 409 {object} util.Response
// @Router /api/guilds/{id}/join [post]
func (c *GuildController) Join(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	guild, err := c.GuildService.JoinGuild(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, guild)
}

// @Summary 通过邀请码加入
// @Tags 公会
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body JoinByCodeRequest true "邀请码"
// @Success 200 {object} util.Response{data=model.Guild}
// @Router /api/guilds/join [post]
func (c *GuildController) JoinByCode(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req JoinByCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	guild, err := c.GuildService.JoinByInviteCode(ctx.Request.Context(), user.UserID, req.InviteCode)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, guild)
}

// @Summary 离开公会
// @Description 已贡献的经验保留在公会中
// @Tags 公会
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/guilds/leave [post]
func (c *GuildController) Leave(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.GuildService.LeaveGuild(ctx.Request.Context(), user.UserID); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 踢出成员
// @Tags 公会
// @Produce json
// @Security BearerAuth
// @Param userId path int true "玩家ID"
// @Success 200 {object} util.Response
// @Router /api/guilds/members/{userId} [delete]
func (c *GuildController) Kick(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	target := util.MustParseUint(ctx.Param("userId"))
	if target == 0 {
		util.BadRequest(ctx, "invalid user id")
		return
	}

	if err := c.GuildService.KickMember(ctx.Request.Context(), user.UserID, target); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 调整成员角色
// @Tags 公会
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path int true "玩家ID"
// @Param request body PromoteRequest true "角色"
// @Success 200 {object} util.Response
// @Router /api/guilds/members/{userId}/role [put]
func (c *GuildController) Promote(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	target := util.MustParseUint(ctx.Param("userId"))
	if target == 0 {
		util.BadRequest(ctx, "invalid user id")
		return
	}

	var req PromoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.GuildService.PromoteMember(ctx.Request.Context(), user.UserID, target, req.Role); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 解散公会
// @Tags 公会
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/guilds/disband [post]
func (c *GuildController) Disband(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.GuildService.DisbandGuild(ctx.Request.Context(), user.UserID); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
