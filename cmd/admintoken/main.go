// Command admintoken mints an Admin bearer token for an existing account.
// Admin tokens cannot be obtained over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"alloxid.dev/internal/account"
	"alloxid.dev/internal/auth"
	"alloxid.dev/internal/config"
	"alloxid.dev/internal/obs"
	"alloxid.dev/internal/store/pg"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admintoken [config flags] ACCOUNT_ID")
		os.Exit(2)
	}
	rawID := args[len(args)-1]
	rest := args[:len(args)-1]

	// stdout carries only the token.
	log := obs.NewJSONLogger(os.Stderr, slog.LevelInfo)
	obs.SetLogger(log)
	cfg, err := config.Load(rest)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseDSN == "" {
		log.Error("admintoken needs a database; set ALLOXID_DATABASE_DSN")
		os.Exit(2)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		log.Error("invalid account id", "id", rawID, "error", err)
		os.Exit(2)
	}

	st, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Error("open db", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	hasher, err := auth.NewHasher([]byte(cfg.Pepper), cfg.HashParams(), 1)
	if err != nil {
		log.Error("init hasher", "error", err)
		os.Exit(1)
	}
	codec, err := auth.NewTokenCodec([]byte(cfg.Secret))
	if err != nil {
		log.Error("init codec", "error", err)
		os.Exit(1)
	}
	svc := account.NewService(st, hasher, codec, account.WithTokenTTL(cfg.TokenTTL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tok, err := svc.IssueToken(ctx, id, auth.RoleAdmin)
	if err != nil {
		log.Error("issue admin token", "user_id", id.String(), "error", err)
		st.Close()
		os.Exit(1)
	}
	log.Info("issued admin token", "user_id", id.String(), "ttl", cfg.TokenTTL.String())
	fmt.Println(tok.Token)
}
