package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"tg-activity-bot/internal/adapters/mtproto"
	"tg-activity-bot/internal/adapters/repo"
	"tg-activity-bot/internal/infra/config"
	"tg-activity-bot/internal/infra/db"
)

func main() {
	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "Path to MTProto session file (gotd JSON, Telethon JSON or Telethon string session)")
	flag.StringVar(&sessionName, "name", "", "Name of the MTProto session (defaults to MTPROTO_SESSION_NAME)")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("mtproto-importer: path to session file is required (-file)")
	}

	sessionData, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: failed to read session file")
	}
	normalized, converted, err := mtproto.NormalizeSessionBytes(sessionData)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: unsupported MTProto session format")
	}
	sessionData = normalized

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: invalid configuration")
	}
	if cfg.PGDSN == "" {
		log.Fatal().Msg("mtproto-importer: PG_DSN environment variable is required")
	}
	if sessionName == "" {
		sessionName = cfg.MTProto.SessionName
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: failed to connect to database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: failed to apply migrations")
	}

	if err := repo.NewPostgres(pool).StoreSession(ctx, sessionName, sessionData); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: failed to store session in database")
	}

	if converted {
		fmt.Println("Session was converted to gotd JSON format before storing")
	}
	fmt.Printf("Stored MTProto session %q (%d bytes) in database\n", sessionName, len(sessionData))
}
