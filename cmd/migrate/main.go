package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"hivegate.org/internal/apps"
	"hivegate.org/internal/config"
	"hivegate.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = pflag.String("dsn", os.Getenv(config.EnvPostgresDSN), "PostgreSQL DSN (default $"+config.EnvPostgresDSN+")")
		migrationsPath = pflag.String("migrations", "", "directory of SQL migrations (default: the embedded app registry schema)")
		seedsPath      = pflag.String("seeds", "", "directory of SQL seed files")
		timeout        = pflag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	pflag.Parse()

	if *dsn == "" {
		log.Fatalf("missing DSN: provide via --dsn or %s", config.EnvPostgresDSN)
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	var migrations fs.FS = apps.Schema()
	if *migrationsPath != "" {
		migrations = os.DirFS(*migrationsPath)
	}
	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := apps.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations, opts...)

	switch pflag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		if err == nil && len(applied) == 0 {
			fmt.Println("nothing to apply")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		switch {
		case errors.Is(err, migrate.ErrNothingApplied):
			fmt.Println("nothing to roll back")
			err = nil
		case err == nil:
			fmt.Println("rolled back", name)
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied, pending []string
		applied, pending, err = mgr.Status(ctx)
		for _, name := range applied {
			fmt.Println("applied ", name)
		}
		for _, name := range pending {
			fmt.Println("pending ", name)
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}
