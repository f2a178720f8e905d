package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/controller"
	"habitquest_backend/internal/repository"
	"habitquest_backend/internal/repository/memory"
	"habitquest_backend/internal/service"
	"habitquest_backend/internal/stravaapi"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/database"
	"habitquest_backend/pkg/logger"
	"habitquest_backend/pkg/monitoring"
	"habitquest_backend/pkg/security"
	"habitquest_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	services        *services
	tracer          *sdktrace.TracerProvider
	mu              sync.Mutex
	configCallbacks []func(*config.Config)
}

type stores struct {
	profiles service.ProfileStore
	logs     service.ActivityLogStore
	guilds   service.GuildStore
	missions service.MissionStore
	gate     service.SyncGate
	cache    service.Cache
}

type services struct {
	progression *service.ProgressionService
	guild       *service.GuildService
	strava      *service.StravaSyncService
	leaderboard *service.LeaderboardService
	overview    *service.OverviewService
	mission     *service.MissionService
	stravaAPI   *stravaapi.Client
}

type controllers struct {
	progression *controller.ProgressionController
	strava      *controller.StravaController
	guild       *controller.GuildController
	leaderboard *controller.LeaderboardController
	mission     *controller.MissionController
	admin       *controller.AdminController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.mu.Lock()
	a.configCallbacks = append(a.configCallbacks, callback)
	a.mu.Unlock()
}

// ApplyConfig 配置热更新入口，只推送可在运行时调整的参数
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// initStores database.driver=memory 时全部使用进程内实现
func (a *App) initStores(db *gorm.DB, rdb *redis.Client) *stores {
	s := &stores{}
	if db == nil {
		mem := memory.NewStore()
		s.profiles, s.logs, s.guilds, s.missions = mem, mem, mem, mem
	} else {
		s.profiles = repository.NewProfileRepository(db)
		s.logs = repository.NewActivityLogRepository(db)
		s.guilds = repository.NewGuildRepository(db)
		s.missions = repository.NewMissionRepository(db)
	}

	if rdb != nil {
		s.gate = repository.NewRedisSyncGate(rdb)
		s.cache = repository.NewRedisCache(rdb)
	} else {
		s.gate = memory.NewSyncGate()
	}
	return s
}

func (a *App) initServices(st *stores, cfg *config.Config) *services {
	s := &services{}

	s.guild = service.NewGuildService(st.guilds, st.profiles, cfg.Progression.GuildMaxMembers)
	s.progression = service.NewProgressionService(st.profiles, st.logs, s.guild, cfg.Progression)

	s.stravaAPI = stravaapi.NewClient(cfg.Strava)
	s.strava = service.NewStravaSyncService(
		st.profiles,
		s.progression,
		s.stravaAPI,
		st.gate,
		security.NewTokenCipher(cfg.Strava.TokenEncryptionKey),
		cfg.Strava,
		cfg.Progression,
	)

	s.leaderboard = service.NewLeaderboardService(st.profiles, st.logs, st.guilds, st.cache, cfg.Leaderboard.CacheTTL)
	s.overview = service.NewOverviewService(s.progression, s.guild, s.strava)
	s.mission = service.NewMissionService(s.progression, st.missions, cfg.Missions)

	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.progression.UpdateConfig(newCfg.Progression)
		s.stravaAPI.UpdateConfig(newCfg.Strava)
		s.strava.UpdateConfig(newCfg.Strava, newCfg.Progression)
		s.mission.UpdateCatalog(newCfg.Missions)
		logger.Log.Info("Progression and provider settings updated")
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		progression: controller.NewProgressionController(s.progression, s.overview),
		strava:      controller.NewStravaController(s.strava),
		guild:       controller.NewGuildController(s.guild),
		leaderboard: controller.NewLeaderboardController(s.leaderboard),
		mission:     controller.NewMissionController(s.mission),
		admin:       controller.NewAdminController(s.progression, s.guild),
		health:      controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	var db *gorm.DB
	if cfg.Database.Driver == util.DriverMemory {
		logger.Log.Warn("Using in-memory store, data is lost on restart")
	} else {
		var err error
		db, err = database.InitDB(&cfg.Database, cfg.Server.Mode == "debug")
		if err != nil {
			logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		var err error
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
	}

	app := New(cfg, db, rdb)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("habitquest", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	return app
}

// New 组装应用，db 为空时使用内存存储，rdb 为空时使用进程内同步标志且不缓存排行榜
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	st := app.initStores(db, rdb)
	services := app.initServices(st, cfg)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
