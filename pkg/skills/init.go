package skills

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// LoadConfig selects where descriptors come from and how aggressively they are merged
type LoadConfig struct {
	Dirs     []string `mapstructure:"dirs"`
	Patterns []string `mapstructure:"patterns"`
	Ignore   []string `mapstructure:"ignore"`
	// Threshold nil selects DefaultThreshold
	Threshold *float64 `mapstructure:"dedup_threshold"`
}

// LoadResult is the outcome of a discover, normalize and deduplicate pass
type LoadResult struct {
	Descriptors int
	// Threshold is the similarity threshold the pass used
	Threshold  float64
	Normalized []*skilltypes.SkillContract
	Dedup      DedupResult
	// ReadErrors holds per-file failures that did not abort the pass
	ReadErrors error
}

// Load discovers descriptors, normalizes them and folds near-duplicates.
// Only configuration errors are returned; unreadable files are reported in
// LoadResult.ReadErrors.
func Load(ctx context.Context, cfg LoadConfig) (*LoadResult, error) {
	opts := []Option{WithPatterns(cfg.Patterns...), WithIgnore(cfg.Ignore...)}
	if len(cfg.Dirs) > 0 {
		opts = append(opts, WithSkillDirs(cfg.Dirs...))
	} else {
		opts = append(opts, WithDefaultDirs())
	}

	discovery, err := NewDiscovery(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create skill discovery")
	}

	raws, readErr := discovery.Discover(ctx)
	if readErr != nil {
		logger.G(ctx).WithError(readErr).Warn("some skill descriptors could not be read")
	}

	threshold := DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}

	normalized := NormalizeAll(ctx, raws)
	result := &LoadResult{
		Descriptors: len(raws),
		Threshold:   threshold,
		Normalized:  normalized,
		Dedup:       Deduplicate(ctx, normalized, threshold),
		ReadErrors:  readErr,
	}

	logger.G(ctx).WithField("descriptors", result.Descriptors).
		WithField("canonical", len(result.Dedup.Canonical)).
		WithField("merged", len(result.Dedup.Candidates)).
		Info("loaded skills")

	return result, nil
}
