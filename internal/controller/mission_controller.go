package controller

import (
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type MissionController struct {
	MissionService *service.MissionService
}

func NewMissionController(missionService *service.MissionService) *MissionController {
	return &MissionController{MissionService: missionService}
}

// @Summary 任务列表
// @Description 任务目录及当天完成状态
// @Tags 任务
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.Mission}
// @Router /api/missions [get]
func (c *MissionController) List(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	missions, err := c.MissionService.List(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, missions)
}

// @Summary 完成任务
// @Description 按目录发放经验与金币，同一任务每天一次，重复完成返回 409
// @Tags 任务
// @Produce json
// @Security BearerAuth
// @Param id path string true "任务ID"
// @Success 200 {object} util.Response{data=service.MissionReward}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/missions/{id}/complete [post]
func (c *MissionController) Complete(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	reward, err := c.MissionService.Complete(ctx.Request.Context(), user.UserID, ctx.Param("id"))
	if err != nil {
		util.HandleServiceError(ctx, err)
		return
	}
	util.Success(ctx, reward)
}
