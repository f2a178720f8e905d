package controller

import (
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressionController struct {
	ProgressionService *service.ProgressionService
	OverviewService    *service.OverviewService
}

func NewProgressionController(progressionService *service.ProgressionService, overviewService *service.OverviewService) *ProgressionController {
	return &ProgressionController{
		ProgressionService: progressionService,
		OverviewService:    overviewService,
	}
}

type StudyRequest struct {
	Minutes int `json:"minutes" binding:"omitempty,gt=0"`
	XP      int `json:"xp" binding:"omitempty,gt=0"`
}

type PurchaseRequest struct {
	Item string `json:"item" binding:"required,max=100"`
	Cost int64  `json:"cost" binding:"required,gt=0"`
}

// @Summary 获取玩家档案
// @Description 首次访问时创建档案，并执行每日重置与连续天数判定
// @Tags 进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.ProgressionState}
// @Router /api/profile [get]
func (c *ProgressionController) GetProfile(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	state, err := c.ProgressionService.Bootstrap(ctx.Request.Context(), user.UserID, user.Name)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// @Summary 首页概览
// @Tags 进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.Overview}
// @Router /api/overview [get]
func (c *ProgressionController) GetOverview(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	overview, err := c.OverviewService.Get(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, overview)
}

// @Summary 记录学习
// @Description 按分钟或直接按经验记录学习，超过每日上限返回 422
// @Tags 进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StudyRequest true "学习"
// @Success 200 {object} util.Response{data=service.XPResult}
// @Failure 422 {object} util.Response
// @Router /api/progression/study [post]
func (c *ProgressionController) AddStudy(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req StudyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var (
		result *service.XPResult
		err    error
	)
	switch {
	case req.Minutes > 0:
		result, err = c.ProgressionService.AddStudyMinutes(ctx.Request.Context(), user.UserID, req.Minutes)
	case req.XP > 0:
		result, err = c.ProgressionService.AddStudyXP(ctx.Request.Context(), user.UserID, req.XP)
	default:
		util.BadRequest(ctx, "minutes or xp is required")
		return
	}
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 活动日志
// @Tags 进度
// @Produce json
// @Security BearerAuth
// @Param limit query int false "数量" default(50)
// @Success 200 {object} util.Response{data=[]model.ActivityLog}
// @Router /api/activity-log [get]
func (c *ProgressionController) GetActivityLog(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	limit := util.ParseLimit(ctx.Query("limit"), util.DefaultActivityLogLimit, util.MaxActivityLogLimit)
	logs, err := c.ProgressionService.ActivityLog(ctx.Request.Context(), user.UserID, limit)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	util.Success(ctx, logs)
}

// @Summary 商店购买
// @Tags 商店
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PurchaseRequest true "商品"
// @Success 200 {object} util.Response
// @Failure 422 {object} util.Response
// @Router /api/shop/purchase [post]
func (c *ProgressionController) Purchase(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req PurchaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	gold, err := c.ProgressionService.Purchase(ctx.Request.Context(), user.UserID, req.Item, req.Cost)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"gold": gold, "item": req.Item})
}
