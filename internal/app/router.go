package app

import (
	"habitquest_backend/docs"
	"habitquest_backend/internal/config"
	"habitquest_backend/internal/middleware"
	"habitquest_backend/internal/model"
	"habitquest_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.HealthCheck)

	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		a.registerPlayerRoutes(authGroup, c)
		a.registerStravaRoutes(authGroup, c)
		a.registerGuildRoutes(authGroup, c)
	}

	a.registerAdminRoutes(authGroup, c)
}

func (a *App) registerPlayerRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.progression.GetProfile)
	rg.GET("/overview", c.progression.GetOverview)
	rg.POST("/progression/study", c.progression.AddStudy)
	rg.GET("/activity-log", c.progression.GetActivityLog)
	rg.POST("/shop/purchase", c.progression.Purchase)
	rg.GET("/leaderboard", c.leaderboard.Players)
	rg.GET("/missions", c.mission.List)
	rg.POST("/missions/:id/complete", c.mission.Complete)
}

func (a *App) registerStravaRoutes(rg *gin.RouterGroup, c *controllers) {
	strava := rg.Group("/strava")
	{
		strava.GET("/authorize-url", c.strava.AuthorizeURL)
		strava.POST("/connect", c.strava.Connect)
		strava.POST("/token", c.strava.ExchangeToken)
		strava.POST("/sync", c.strava.Sync)
		strava.GET("/status", c.strava.Status)
		strava.DELETE("/connection", c.strava.Disconnect)
	}
}

func (a *App) registerGuildRoutes(rg *gin.RouterGroup, c *controllers) {
	guilds := rg.Group("/guilds")
	{
		guilds.POST("", c.guild.Create)
		guilds.GET("/leaderboard", c.leaderboard.Guilds)
		guilds.POST("/join", c.guild.JoinByCode)
		guilds.POST("/leave", c.guild.Leave)
		guilds.POST("/disband", c.guild.Disband)
		guilds.DELETE("/members/:userId", c.guild.Kick)
		guilds.PUT("/members/:userId/role", c.guild.Promote)
		guilds.GET("/:id", c.guild.Detail)
		guilds.POST("/:id/join", c.guild.Join)
	}
}

func (a *App) registerAdminRoutes(rg *gin.RouterGroup, c *controllers) {
	admin := rg.Group("/admin")
	admin.Use(middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/players/:id/xp", c.admin.GrantXP)
		admin.PUT("/players/:id/xp", c.admin.CorrectXP)
		admin.GET("/guilds/:id/reconcile", c.admin.ReconcileGuild)
	}
}
