package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var users, companies, sicRows, searches, saved, unresolved int
	err = pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM users),
			(SELECT count(*) FROM user_companies),
			(SELECT count(*) FROM sic_code_reference),
			(SELECT count(*) FROM search_history),
			(SELECT count(*) FROM saved_grants),
			(SELECT count(*) FROM company_sic_codes c
				WHERE NOT EXISTS (SELECT 1 FROM sic_code_reference r WHERE r.code = c.code))
	`).Scan(&users, &companies, &sicRows, &searches, &saved, &unresolved)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Users: %d\n", users)
	fmt.Printf("Linked companies: %d\n", companies)
	fmt.Printf("SIC reference rows: %d\n", sicRows)
	fmt.Printf("Searches recorded: %d\n", searches)
	fmt.Printf("Saved grants: %d\n", saved)
	if unresolved > 0 {
		fmt.Printf("Company SIC codes missing from reference: %d (run cmd/tools/seed_sic)\n", unresolved)
	}
}
