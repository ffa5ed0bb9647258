package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/db"
)

func main() {
	user := flag.String("user", "", "only show searches by this user id")
	limit := flag.Int("limit", 20, "number of rows")
	flag.Parse()

	userID := uuid.Nil
	if *user != "" {
		id, err := uuid.Parse(*user)
		if err != nil {
			log.Fatalf("Invalid user id: %v", err)
		}
		userID = id
	}

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

	entries, err := db.NewStore(pool).RecentSearches(ctx, userID, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"User", "Query", "Sectors", "Status", "Results", "At"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.UserID.String()[:8],
			e.Query,
			strings.Join(e.Filters.Sectors, ","),
			e.Filters.Status,
			e.ResultCount,
			e.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
