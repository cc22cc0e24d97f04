package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tablescout/billing-cli/internal/resolver"
	"github.com/tablescout/billing-cli/internal/store"
)

// openStore opens the configured store backend. Postgres connectivity is
// verified up front; a failed connection aborts the command.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// loadPolicy returns the confidence policy, from the configured YAML file
// when set, else the built-in defaults.
func loadPolicy() (resolver.Policy, error) {
	if cfg.Recon.PolicyPath == "" {
		return resolver.DefaultPolicy(), nil
	}
	return resolver.LoadPolicy(cfg.Recon.PolicyPath)
}
