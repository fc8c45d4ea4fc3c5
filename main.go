package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"mailmind/adapter/in/cli"
	"mailmind/config"
	"mailmind/internal/bootstrap"
	"mailmind/pkg/logger"
)

func main() {
	// Load .env if present (local development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "mailmind",
		Pretty:  cfg.Environment == "development",
	})

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(2)
	}
	code := cli.New(deps).Run(context.Background(), os.Args[1:])
	cleanup()
	os.Exit(code)
}
