package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"convosync/internal/app"
	"convosync/pkg/banner"
	"convosync/pkg/config"
	"convosync/pkg/logger"
	"convosync/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during build/release
	var version = "dev"

	_ = godotenv.Load(".env")
	addrVal, dataVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	envUsed := config.LoadEnvOverrides(cfg)

	// flags explicitly set win over env/config
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	if setFlags["data"] {
		cfg.Storage.DataPath = dataVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	var srcs []string
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := os.Stat(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}
	primaryState := "unconfigured (local only)"
	if cfg.Storage.PrimaryDSN != "" {
		primaryState = "configured"
	}
	banner.Print(addr, cfg.Storage.DataPath, primaryState, strings.Join(srcs, ", "), version)

	a, err := app.New(cfg, addr, version)
	if err != nil {
		shutdown.Abort("engine initialization failed", err, cfg.Storage.DataPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited", err, cfg.Storage.DataPath)
	}
	logger.Sync()
}
