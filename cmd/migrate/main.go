package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

const usage = `usage: migrate -cmd <command> [flags]

commands without a database:
  create    -name <slug>   write an empty migration into -dir
  validate                 check file names and goose sections in -dir

commands against STOREFRONT_DB_*:
  up                       apply every pending migration
  down                     roll back the newest migration
  redo                     roll back and re-apply the newest migration
  status                   log applied and pending migrations
  version   -version <v>   move the schema to YYYYMMDDHHMMSS
`

func main() {
	cmdName := flag.String("cmd", "up", "migration command")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version for -cmd=version")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	switch *cmdName {
	case "create":
		path, err := migrate.CreateSQLMigration(*dir, *name)
		exitOn(logg, "create migration", err)
		fmt.Println(path)
		return
	case "validate":
		exitOn(logg, "validate migrations", migrate.ValidateDir(*dir))
		fmt.Println("migrations ok")
		return
	}

	cmd, err := migrate.ParseCommand(*cmdName)
	if err != nil {
		flag.Usage()
		exitOn(logg, "parse command", err)
	}
	var target int64
	if cmd == migrate.CommandVersion {
		target, err = migrate.ParseVersion(*version)
		exitOn(logg, "parse version", err)
	}

	cfg, err := config.Load()
	exitOn(logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": string(cmd),
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(logg, "connect database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	exitOn(logg, "unwrap sql.DB", err)

	runner, err := migrate.NewRunner(sqlDB, migrate.DiskSource(*dir), logg)
	exitOn(logg, "load migrations", err)

	if err := runner.Exec(ctx, cmd, target); err != nil {
		logg.Error(ctx, "migrate failed", err)
		dbClient.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func exitOn(logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), step, err)
	os.Exit(1)
}
