package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/procurement-core/internal/config"
	"github.com/ledgerline/procurement-core/internal/database"
	"github.com/ledgerline/procurement-core/internal/errors"
	"github.com/ledgerline/procurement-core/internal/logger"
	"github.com/ledgerline/procurement-core/internal/repository"
	"github.com/ledgerline/procurement-core/internal/rules"
)

// Bootstrap applies the Postgres schema and, when SEED_PATH is set, loads
// approval rules and budgets from the seed document. Safe to re-run: the
// schema statements are idempotent, rules upsert by name, and existing
// budgets are left unchanged.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting procurement bootstrap")

	ctx := context.Background()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	store := repository.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}
	log.Info().Msg("Schema applied")

	if cfg.Seed.Path == "" {
		log.Info().Msg("No seed file configured, schema only")
		return
	}

	seed, err := rules.LoadSeed(cfg.Seed.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Seed.Path).Msg("Failed to load seed file")
	}
	log.Info().
		Str("path", cfg.Seed.Path).
		Str("entity_id", seed.EntityID).
		Msg("Seed file loaded")

	now := time.Now().UTC()

	for _, rule := range seed.DomainRules() {
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := store.SaveRule(ctx, rule); err != nil {
			log.Fatal().Err(err).Str("rule", rule.Name).Msg("Failed to seed rule")
		}
		log.Info().
			Str("rule", rule.Name).
			Int("priority", rule.Priority).
			Bool("active", rule.Active).
			Msg("Rule seeded")
	}

	for _, b := range seed.DomainBudgets() {
		b.ID = uuid.NewString()
		b.CreatedAt = now
		b.UpdatedAt = now
		err := store.CreateBudget(ctx, b)
		switch {
		case err == nil:
			log.Info().
				Str("budget", b.Name).
				Str("period", b.Period).
				Int64("allocated", b.Allocated).
				Msg("Budget seeded")
		case errors.IsConflict(err):
			// Re-runs must not reset reserved/spent on a live budget.
			log.Info().
				Str("budget", b.Name).
				Str("period", b.Period).
				Msg("Budget already exists, left unchanged")
		default:
			log.Fatal().Err(err).Str("budget", b.Name).Msg("Failed to seed budget")
		}
	}

	// The role directory lives in the embedding process, not in Postgres;
	// report what the seed declares so operators can cross-check.
	for role, users := range seed.Directory {
		log.Info().
			Str("role", role).
			Strs("users", users).
			Msg("Directory role declared")
	}

	log.Info().
		Int("rules", len(seed.Rules)).
		Int("budgets", len(seed.Budgets)).
		Int("directory_roles", len(seed.Directory)).
		Msg("Bootstrap complete")
}
