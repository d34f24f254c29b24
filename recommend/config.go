package recommend

import (
	"errors"
	"fmt"
)

// Config tunes the hybrid ranker.
type Config struct {
	// Dimension is the embedding length D shared by the provider and the store.
	Dimension int
	// OverfetchMargin is added to topK+|viewed| when retrieving candidates.
	OverfetchMargin int
	// CategoryBoost is added when a candidate's category was seen in the viewed set.
	CategoryBoost float64
	// TagBoost is added per candidate tag that was seen in the viewed set.
	TagBoost float64
	// WeightByFrequency multiplies each bonus by how often the category or tag was seen.
	WeightByFrequency bool
	DefaultTopK       int
	// MaxTopK caps the caller-supplied topK.
	MaxTopK int
	// FetchConcurrency bounds parallel viewed-id lookups.
	FetchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		Dimension:        384,
		OverfetchMargin:  10,
		CategoryBoost:    0.5,
		TagBoost:         0.2,
		DefaultTopK:      10,
		MaxTopK:          100,
		FetchConcurrency: 4,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", c.Dimension))
	}
	if c.OverfetchMargin < 0 {
		errs = append(errs, fmt.Errorf("overfetch margin must not be negative, got %d", c.OverfetchMargin))
	}
	if c.CategoryBoost < 0 || c.TagBoost < 0 {
		errs = append(errs, fmt.Errorf("boosts must not be negative, got category=%g tag=%g", c.CategoryBoost, c.TagBoost))
	}
	if c.DefaultTopK < 1 {
		errs = append(errs, fmt.Errorf("default top_k must be at least 1, got %d", c.DefaultTopK))
	}
	if c.MaxTopK < c.DefaultTopK {
		errs = append(errs, fmt.Errorf("max top_k %d must not be below default top_k %d", c.MaxTopK, c.DefaultTopK))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("fetch concurrency must be at least 1, got %d", c.FetchConcurrency))
	}
	return errors.Join(errs...)
}
