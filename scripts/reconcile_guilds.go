// 手动核对公会聚合数据
//
// 比较每个公会的总经验与成员贡献之和、成员数与成员关系条数，只输出差异，不修改数据。
// 适合在数据库故障恢复或批量修正经验之后运行。
//
// 用法: go run scripts/reconcile_guilds.go [-config configs] [-limit 1000]

package main

import (
	"context"
	"flag"
	"log"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/repository"
	"habitquest_backend/internal/service"
	"habitquest_backend/pkg/database"
	"habitquest_backend/pkg/logger"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	limit := flag.Int("limit", 1000, "最多核对的公会数量")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, false)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	guilds := repository.NewGuildRepository(db)
	profiles := repository.NewProfileRepository(db)
	svc := service.NewGuildService(guilds, profiles, cfg.Progression.GuildMaxMembers)

	ctx := context.Background()
	list, err := guilds.TopGuilds(ctx, *limit)
	if err != nil {
		log.Fatalf("读取公会失败: %v", err)
	}

	drifted := 0
	for _, g := range list {
		report, err := svc.Reconcile(ctx, g.ID)
		if err != nil {
			log.Printf("核对 %s 失败: %v", g.ID, err)
			continue
		}
		if report.Drift != 0 || report.MemberCountDrifts {
			drifted++
			log.Printf("%s (%s): total=%d sum=%d drift=%d members=%d/%d",
				g.Name, g.ID, report.GuildTotalXP, report.ContributionSum, report.Drift,
				report.MemberCount, report.RecordedMembers)
		}
	}
	log.Printf("完成！共核对 %d 个公会，%d 个存在差异", len(list), drifted)
}
