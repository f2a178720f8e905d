// @title HabitQuest 进度服务 API
// @version 1.0
// @description 经验、等级、连续天数、Strava 活动同步与公会贡献。
// @termsOfService http://swagger.io/terms/

// @contact.name API支持
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"

	"habitquest_backend/internal/app"
	"habitquest_backend/internal/config"
	"habitquest_backend/pkg/configwatcher"
	"habitquest_backend/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	watch := flag.Bool("watch", true, "监听配置文件变化并热更新可调参数")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	if *watch {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			path := filepath.Join(*configDir, "config.yaml")
			if err := configwatcher.WatchConfig(ctx, path, application.ApplyConfig); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	application.Run()
}
