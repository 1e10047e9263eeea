// Command migrate applies campaignctl's schema, grounded on the teacher's
// cmd/api/main.go database-bootstrap sequence (ensure database exists, open,
// run the idempotent CREATE TABLE statements) minus the workspace/root-user
// machinery that doesn't apply here.
package main

import (
	"fmt"
	"os"

	"github.com/lollxz/campaignctl/config"
	"github.com/lollxz/campaignctl/internal/database/schema"
	"github.com/lollxz/campaignctl/pkg/database"
	"github.com/lollxz/campaignctl/pkg/logger"
)

func main() {
	log := logger.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatal("loading config")
		os.Exit(1)
	}

	if err := database.EnsureDatabaseExists(&cfg.Database); err != nil {
		log.WithField("error", err.Error()).Fatal("ensuring database exists")
		os.Exit(1)
	}

	db, err := database.Open(&cfg.Database, false)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("opening database")
		os.Exit(1)
	}
	defer db.Close()

	for _, stmt := range schema.TableDefinitions {
		if _, err := db.Exec(stmt); err != nil {
			log.WithField("error", err.Error()).Fatal("applying schema statement")
			os.Exit(1)
		}
	}

	fmt.Println("campaignctl: schema up to date")
}
