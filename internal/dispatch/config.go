package dispatch

import (
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
)

// Config tunes one dispatch. BatchSize bounds the work per invocation so it
// finishes under the host's execution ceiling; Concurrency and ChunkDelay
// pace sends against the provider.
type Config struct {
	BatchSize   int
	Concurrency int
	ChunkDelay  time.Duration
	LeaseTTL    time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		Concurrency: 5,
		ChunkDelay:  50 * time.Millisecond,
		LeaseTTL:    10 * time.Minute,
	}
}

// ConfigFrom converts the dispatch config section.
func ConfigFrom(c config.DispatchConfig) Config {
	return Config{
		BatchSize:   c.BatchSize,
		Concurrency: c.Concurrency,
		ChunkDelay:  c.ChunkDelay(),
		LeaseTTL:    c.LeaseTTL(),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	return c
}
