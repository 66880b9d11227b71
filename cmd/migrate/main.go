package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"alloxid.dev/internal/migrate"
	"alloxid.dev/internal/obs"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn     = flag.String("dsn", os.Getenv("ALLOXID_DATABASE_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", time.Minute, "overall deadline")
	)
	flag.Parse()

	log := obs.Logger()
	if *dsn == "" {
		log.Error("missing DSN: provide via -dsn or ALLOXID_DATABASE_DSN")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn DSN] up|down|status|version")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mgr := migrate.NewManager(db)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		err = mgr.Status(ctx)
	case "version":
		var v int64
		v, err = mgr.Version(ctx)
		if err == nil {
			fmt.Println(v)
		}
	default:
		log.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migrate failed", "command", cmd, "error", err)
		db.Close()
		os.Exit(1)
	}
}
