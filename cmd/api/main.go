package main

import (
	"context"
	"log"

	"github.com/kumbh-rakshak/kr-backend/config"
	"github.com/kumbh-rakshak/kr-backend/internal/bootstrap"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/cache"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/directory"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	redisClient, err := bootstrap.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect session cache: %v", err)
	}
	store := cache.NewStore(redisClient, cfg.Redis.KeyPrefix)

	var dir directory.Directory
	switch cfg.Directory.Backend {
	case "firebase":
		fb, err := directory.NewFirebaseDirectory(ctx, &cfg.Directory)
		if err != nil {
			log.Fatalf("failed to initialize firebase directory: %v", err)
		}
		defer fb.Close()
		dir = fb
	case "postgres":
		pg, err := directory.OpenPostgresDirectory(ctx, cfg.Directory.DSN)
		if err != nil {
			log.Fatalf("failed to open postgres directory: %v", err)
		}
		defer pg.Close()
		dir = pg
	default:
		log.Fatalf("unknown directory backend %q", cfg.Directory.Backend)
	}

	reconciler := session.NewReconciler(dir, store, session.Config{
		AllowDegradedVolunteer: cfg.Session.AllowDegradedVolunteer,
		PromoteInPlace:         cfg.Session.PromoteInPlace,
	})

	bootstrap.SetGinMode(cfg.App.Environment)

	r := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: "kr-backend",
		Version:     cfg.App.Version,
		Reconciler:  reconciler,
		Cache:       redisClient,
	})

	log.Printf("listening on :%s (env=%s, directory=%s)", cfg.Server.Port, cfg.App.Environment, cfg.Directory.Backend)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
