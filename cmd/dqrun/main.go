// Command dqrun runs the active data-quality rules once and exits non-zero
// when the warehouse is not fit for downstream use. It is meant to be called
// from cron, Airflow or CI after a load.
//
// Exit codes:
//
//	0  every rule passed or only warned
//	1  at least one rule failed
//	2  configuration, connection or maintenance error
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/warehouse-dq/internal/config"
	"github.com/JonMunkholm/warehouse-dq/internal/core"
	"github.com/JonMunkholm/warehouse-dq/internal/database"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, connectPool))
}

func connectPool(ctx context.Context, cfg *config.Config) (core.DB, func(), error) {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}
