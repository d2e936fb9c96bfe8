package main

import (
	"flag"
	"fmt"
	"os"

	"backoffice.dev/internal/database"
	"backoffice.dev/internal/obs"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("BACKOFFICE_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	logger := obs.NewLogger(os.Stderr, "info", "text")
	if *dsn == "" {
		logger.Error("missing DSN: provide via -dsn or BACKOFFICE_PG_DSN")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		logger.Error("usage: migrate [up|down|version]")
		os.Exit(2)
	}

	m, err := database.NewMigrator(*dsn)
	if err != nil {
		logger.Error("open migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", v, dirty)
		}
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
	logger.Info("migrate done", "command", flag.Arg(0))
}
