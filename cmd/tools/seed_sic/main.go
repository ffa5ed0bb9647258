package main

import (
	"context"
	"flag"
	"log"

	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/db"
	"github.com/david/grantmatch/internal/sic"
)

func main() {
	path := flag.String("file", "", "YAML reference file (defaults to the embedded SIC 2007 list)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	ref, err := sic.LoadReference(*path)
	if err != nil {
		log.Fatal(err)
	}

	n, err := db.NewStore(pool).UpsertSICReference(ctx, ref.All())
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d SIC reference rows", n)
}
