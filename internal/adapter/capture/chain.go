package capture

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/config"
	"github.com/cwygoda/livearchive/internal/domain"
)

// Builtin returns the default fallback chain: ytarchive first, yt-dlp second.
func Builtin(ytarchiveCmd, ytdlpCmd string) []config.StrategyConfig {
	return []config.StrategyConfig{
		{
			Name:    "ytarchive",
			Command: ytarchiveCmd,
			Args:    []string{"--no-frag-files", "-q", "--output", "{output}", "{url}", "best"},
			Ext:     "mkv",
		},
		{
			Name:    "yt-dlp",
			Command: ytdlpCmd,
			Args:    []string{"-f", "best", "-o", "{output}", "--hls-use-mpegts", "--no-part", "--continue", "{url}"},
			Ext:     "mp4",
		},
	}
}

// Chain holds capture strategies in fallback order.
type Chain struct {
	strategies []domain.CaptureStrategy
}

// NewChain creates a chain trying strategies in the given order.
func NewChain(strategies ...domain.CaptureStrategy) *Chain {
	return &Chain{strategies: strategies}
}

// Build creates a CommandStrategy for every config entry, preserving order.
func Build(cfgs []config.StrategyConfig, run ProcessRunner, log *zap.Logger) (*Chain, error) {
	c := NewChain()
	for _, sc := range cfgs {
		s, err := NewCommandStrategy(sc, run, log)
		if err != nil {
			return nil, err
		}
		c.Register(s)
	}
	if len(c.strategies) == 0 {
		return nil, fmt.Errorf("build capture chain: %w", domain.ErrNoStrategies)
	}
	return c, nil
}

// Register appends a strategy to the end of the chain.
func (c *Chain) Register(s domain.CaptureStrategy) {
	c.strategies = append(c.strategies, s)
}

// For returns the strategies matching source, in fallback order.
func (c *Chain) For(source domain.SourceID) []domain.CaptureStrategy {
	var matched []domain.CaptureStrategy
	for _, s := range c.strategies {
		if s.Match(source) {
			matched = append(matched, s)
		}
	}
	return matched
}

// Strategies returns all registered strategies.
func (c *Chain) Strategies() []domain.CaptureStrategy {
	return c.strategies
}

// Names lists strategy names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}
