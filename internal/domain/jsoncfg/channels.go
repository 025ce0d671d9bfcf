package jsoncfg

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gensvc/internal/domain"
)

// ChannelConfig holds the per-channel bounds and thresholds.
type ChannelConfig struct {
	MinOutputs      int    `json:"min_outputs"`
	MaxOutputs      int    `json:"max_outputs"`
	DefaultOutputs  int    `json:"default_outputs"`
	FixedOutputs    int    `json:"fixed_outputs,omitempty"`
	MinPromptLength int    `json:"min_prompt_length"`
	FixedOverhead   int    `json:"fixed_overhead"`
	MinSuccess      int    `json:"min_success,omitempty"`
	Analysis        bool   `json:"analysis"`
	RequiresMedia   bool   `json:"requires_media"`
	Noun            string `json:"noun"`
}

// Channels maps each channel to its configuration.
type Channels map[domain.Channel]ChannelConfig

// DefaultChannels mirrors the production thresholds: bulk image generation
// must deliver every requested output, thumbnail edits produce three
// variants and need all three.
func DefaultChannels() Channels {
	return Channels{
		domain.ChannelImage: {
			MinOutputs:      1,
			MaxOutputs:      12,
			DefaultOutputs:  4,
			MinPromptLength: 10,
			FixedOverhead:   1,
			Noun:            "images",
		},
		domain.ChannelCaption: {
			MinOutputs:      1,
			MaxOutputs:      5,
			DefaultOutputs:  3,
			MinPromptLength: 10,
			FixedOverhead:   1,
			MinSuccess:      1,
			Analysis:        true,
			Noun:            "captions",
		},
		domain.ChannelThumbnail: {
			MinOutputs:     3,
			MaxOutputs:     3,
			DefaultOutputs: 3,
			FixedOutputs:   3,
			FixedOverhead:  1,
			MinSuccess:     3,
			RequiresMedia:  true,
			Noun:           "thumbnails",
		},
	}
}

// LoadChannels returns the defaults overlaid with the JSON file at path.
// An empty path yields the defaults.
func LoadChannels(path string) (Channels, error) {
	channels := DefaultChannels()
	path = strings.TrimSpace(path)
	if path == "" {
		return channels, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels config: %w", err)
	}
	var overrides map[string]ChannelConfig
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("decode channels config: %w", err)
	}
	for name, cfg := range overrides {
		ch := domain.Channel(strings.ToLower(strings.TrimSpace(name)))
		if !ch.Valid() {
			return nil, fmt.Errorf("channels config: unknown channel %q", name)
		}
		if err := cfg.check(); err != nil {
			return nil, fmt.Errorf("channels config %s: %w", ch, err)
		}
		channels[ch] = cfg
	}
	return channels, nil
}

func (c ChannelConfig) check() error {
	if c.MinOutputs < 1 {
		return fmt.Errorf("min_outputs must be >= 1")
	}
	if c.MaxOutputs < c.MinOutputs {
		return fmt.Errorf("max_outputs must be >= min_outputs")
	}
	if c.MinSuccess > c.MaxOutputs {
		return fmt.Errorf("min_success must be <= max_outputs")
	}
	if c.FixedOverhead < 0 {
		return fmt.Errorf("fixed_overhead must be >= 0")
	}
	return nil
}

// MinSuccessFor returns the minimum number of successes required when
// outputCount items are requested.
func (c ChannelConfig) MinSuccessFor(outputCount int) int {
	if c.MinSuccess > 0 && c.MinSuccess <= outputCount {
		return c.MinSuccess
	}
	return outputCount
}

// UnitsNeeded computes the quota units consumed by spec.
func (c ChannelConfig) UnitsNeeded(spec ChannelSpec) int {
	units := c.FixedOverhead + spec.OutputCount
	if spec.IncludeContext {
		units++
	}
	return units
}

// NounOrDefault names the channel's artifacts in user-facing messages.
func (c ChannelConfig) NounOrDefault() string {
	if c.Noun == "" {
		return "results"
	}
	return c.Noun
}
