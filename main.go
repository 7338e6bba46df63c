package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fumino17/Media_Grab/config"
	"github.com/fumino17/Media_Grab/events"
	"github.com/fumino17/Media_Grab/orchestrator"
	"github.com/fumino17/Media_Grab/runner"
	"github.com/fumino17/Media_Grab/server"
	"github.com/fumino17/Media_Grab/toolver"
)

// watchConfig applies hot-reloadable settings once the config file changes
// on disk. Concurrency capacities apply to future admissions only.
func watchConfig(orch *orchestrator.Orchestrator) {
	ticker := time.NewTicker(time.Second)
	for range ticker.C {
		if !config.ConfigChanged {
			continue
		}
		ret, err := config.ReloadConfig()
		if !ret {
			continue
		}
		if err != nil {
			log.Warnf("Config changed but loading failed: %s", err)
			continue
		}
		log.Infof("Config changed! New config: %v", config.Config)
		orch.ApplyConfig(config.Config)
	}
}

func main() {
	config.InitConfig()
	config.InitLog()
	config.InitProfiling()
	cfg := config.Config

	hub := events.NewHub(cfg.RedisHost, cfg.EventChannel)
	run := runner.New(cfg.ToolPath, cfg.MuxToolPath, cfg.SpawnPerMinute)
	orch := orchestrator.New(cfg, run, hub)
	ver := toolver.New(cfg.ToolPath, cfg.MuxToolPath)

	go watchConfig(orch)
	go func() {
		srv := server.New(cfg, hub, orch, orch.History(), ver)
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal("query surface died")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Infof("Caught %v, cancelling live downloads", s)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownGraceSec+5)*time.Second)
	defer cancel()
	if err := orch.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown was not clean")
		os.Exit(1)
	}
	log.Info("All downloads settled, bye")
}
