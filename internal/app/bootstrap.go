package app

import (
	"context"
	"errors"

	"collabline/internal/config"
	"collabline/internal/repo"
)

// ResolveConfig loads the marketplace catalog from the database, seeding it on
// first use. A collabline.yml in the workspace wins over the built-in default
// so operators can pin their own platform catalog before the first run.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetMarketplaceConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default("collabline")
	}
	if err := r.UpsertMarketplaceConfig(ctx, nil, seed); err != nil {
		return nil, err
	}
	return seed, nil
}
