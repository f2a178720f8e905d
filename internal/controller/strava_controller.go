package controller

import (
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StravaController struct {
	SyncService *service.StravaSyncService
}

func NewStravaController(syncService *service.StravaSyncService) *StravaController {
	return &StravaController{SyncService: syncService}
}

type TokenExchangeRequest struct {
	Code         string `json:"code"`
	RefreshToken string `json:"refresh_token"`
}

// @Summary 授权地址
// @Tags Strava
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/strava/authorize-url [get]
func (c *StravaController) AuthorizeURL(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	url, err := c.SyncService.AuthorizationURL(user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"url": url})
}

// @Summary 完成授权
// @Description 提交授权码，或客户端已获得的令牌
// @Tags Strava
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.AuthorizationGrant true "授权"
// @Success 200 {object} util.Response{data=service.SyncStatus}
// @Router /api/strava/connect [post]
func (c *StravaController) Connect(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var grant service.AuthorizationGrant
	if err := ctx.ShouldBindJSON(&grant); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	status, err := c.SyncService.CompleteAuthorization(ctx.Request.Context(), user.UserID, grant)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, status)
}

// @Summary 同步活动
// @Description 冷却中返回 429，正在同步返回 409
// @Tags Strava
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.SyncResult}
// @Failure 429 {object} util.Response
// @Failure 502 {object} util.Response
// @Router /api/strava/sync [post]
func (c *StravaController) Sync(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.SyncService.Sync(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 同步状态
// @Tags Strava
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.SyncStatus}
// @Router /api/strava/status [get]
func (c *StravaController) Status(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	status, err := c.SyncService.Status(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, status)
}

// @Summary 断开连接
// @Tags Strava
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/strava/connection [delete]
func (c *StravaController) Disconnect(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.SyncService.Disconnect(ctx.Request.Context(), user.UserID); err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"state": service.StateDisconnected})
}

// @Summary 令牌交换
// @Description 使用服务端凭证转发到 Strava 令牌端点，原样返回响应
// @Tags Strava
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TokenExchangeRequest true "code 或 refresh_token"
// @Success 200 {object} object
// @Failure 400 {object} util.Response
// @Failure 500 {object} util.Response
// @Failure 502 {object} util.Response
// @Router /api/strava/token [post]
func (c *StravaController) ExchangeToken(ctx *gin.Context) {
	var req TokenExchangeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	raw, err := c.SyncService.ExchangeToken(ctx.Request.Context(), req.Code, req.RefreshToken)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	ctx.Data(raw.StatusCode, "application/json; charset=utf-8", raw.Body)
}
