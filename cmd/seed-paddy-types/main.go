// seed-paddy-types fills the paddy type catalog.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-paddy-types
//	go run ./cmd/seed-paddy-types -types "Samba,Nadu,Keeri Samba" -migrate
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/models"
)

var defaultTypes = []string{"Samba", "Nadu", "Keeri Samba", "Red Raw", "Suwandel"}

func main() {
	types := flag.String("types", strings.Join(defaultTypes, ","), "comma-separated paddy type names")
	migrate := flag.Bool("migrate", false, "run AutoMigrate before seeding")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if *migrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}

	added, err := models.EnsurePaddyTypes(ctx, db, strings.Split(*types, ",")...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed paddy types: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("paddy types added: %d\n", added)
}
