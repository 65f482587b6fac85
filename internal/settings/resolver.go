package settings

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Source loads raw configuration from storage.
type Source interface {
	LoadRaw(ctx context.Context) (Raw, error)
}

// Resolver turns stored configuration into a Settings value.
type Resolver struct {
	source   Source
	defaults Defaults
	logger   *slog.Logger
	group    singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(source Source, defaults Defaults, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, defaults: defaults, logger: logger}
}

// Resolve loads and resolves settings. Concurrent callers share one load.
func (r *Resolver) Resolve(ctx context.Context) (Settings, error) {
	v, err, _ := r.group.Do("settings", func() (interface{}, error) {
		raw, err := r.source.LoadRaw(ctx)
		if err != nil {
			return Settings{}, err
		}
		s, err := Resolve(raw, r.defaults)
		if err != nil {
			return Settings{}, err
		}
		if s.Renormalized {
			r.logger.Warn("contribution ratios do not sum to 1, renormalized",
				slog.String("shares_ratio", raw.Ratios.Shares.String()),
				slog.String("savings_ratio", raw.Ratios.Savings.String()),
			)
		}
		return s, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}
