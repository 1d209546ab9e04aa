package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/example/handelsrausch/internal/config"
	"github.com/example/handelsrausch/internal/db"
	"github.com/example/handelsrausch/internal/models"
)

// Apply the schema and seed the commodity catalog.
func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	migrationPath := flag.String("migration", "migrations/001_init.sql", "path to schema file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	migration, err := os.ReadFile(*migrationPath)
	if err != nil {
		log.Fatalf("Failed to read migration: %v", err)
	}
	for _, stmt := range strings.Split(string(migration), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := database.Pool.Exec(ctx, stmt); err != nil && !strings.Contains(err.Error(), "already exists") {
			log.Fatalf("Failed to apply migration: %v", err)
		}
	}

	seeded, err := database.SeedCatalog(ctx, []models.CatalogEntry{
		{ID: "kokain", Name: "Kokainhydrochlorid", MinPrice: 15, MaxPrice: 120, BasePrice: 50},
		{ID: "diamorphin", Name: "Diacethylmorphin", MinPrice: 15, MaxPrice: 90, BasePrice: 40},
		{ID: "dmt", Name: "Dimethyltryptamin", MinPrice: 10, MaxPrice: 200, BasePrice: 80},
	})
	if err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}
	if !seeded {
		fmt.Println("Catalog already seeded. Nothing to do.")
		os.Exit(0)
	}
	fmt.Println("Successfully seeded the commodity catalog!")
}
