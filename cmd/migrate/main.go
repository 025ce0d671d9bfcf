package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gensvc/internal/infra"
	"gensvc/migrations"
)

func main() {
	var direction string
	flag.StringVar(&direction, "direction", string(infra.MigrateUp), "up applies all pending migrations, down rolls back one")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := infra.NewLogger(nil).With().Str("cmd", "migrate").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dir := infra.MigrateDirection(strings.ToLower(strings.TrimSpace(direction)))
	if err := infra.Migrate(ctx, dbURL, migrations.FS, dir, logger); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
}
