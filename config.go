package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/canvas/colorspace"
	"github.com/gogpu/canvas/undo"
)

// ErrInvalidConfig is returned for configuration values out of range.
var ErrInvalidConfig = errors.New("canvas: invalid config")

// Config holds the tunables of an Image. The zero value is not valid; start
// from DefaultConfig.
type Config struct {
	// Workers is the number of stroke and compositor workers. Zero selects
	// GOMAXPROCS.
	Workers int `toml:"workers"`

	// UndoDepth bounds the built-in undo history. Zero keeps everything.
	UndoDepth int `toml:"undo_depth"`

	// CompactAfter compresses history entries once this many newer
	// entries exist. Zero disables compaction.
	CompactAfter int `toml:"compact_after"`

	// CompressionLevel is the zstd level of compacted history, 1 to 22.
	CompressionLevel int `toml:"compression_level"`

	// LevelOfDetail is the initial preview level of new strokes.
	LevelOfDetail int `toml:"level_of_detail"`

	// LodCacheSize is how many reduced copies each paint device keeps.
	LodCacheSize int `toml:"lod_cache_size"`

	// ColorSpace is "srgb" or "linear".
	ColorSpace string `toml:"color_space"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		UndoDepth:        undo.DefaultMaxDepth,
		CompactAfter:     8,
		CompressionLevel: 3,
		LodCacheSize:     4,
		ColorSpace:       "srgb",
	}
}

// ParseConfig decodes TOML on top of DefaultConfig. Unknown keys are
// rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return Config{}, fmt.Errorf("canvas: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a TOML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("canvas: load config: %w", err)
	}
	return ParseConfig(data)
}

// Encode writes cfg as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks every field.
func (c Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	case c.UndoDepth < 0:
		return fmt.Errorf("%w: undo_depth %d", ErrInvalidConfig, c.UndoDepth)
	case c.CompactAfter < 0:
		return fmt.Errorf("%w: compact_after %d", ErrInvalidConfig, c.CompactAfter)
	case c.CompactAfter > 0 && (c.CompressionLevel < 1 || c.CompressionLevel > 22):
		return fmt.Errorf("%w: compression_level %d", ErrInvalidConfig, c.CompressionLevel)
	case c.LevelOfDetail < 0:
		return fmt.Errorf("%w: level_of_detail %d", ErrInvalidConfig, c.LevelOfDetail)
	case c.LodCacheSize < 0:
		return fmt.Errorf("%w: lod_cache_size %d", ErrInvalidConfig, c.LodCacheSize)
	}
	if _, err := c.colorSpace(); err != nil {
		return err
	}
	return nil
}

func (c Config) colorSpace() (colorspace.ColorSpace, error) {
	switch c.ColorSpace {
	case "", "srgb":
		return colorspace.SRGB, nil
	case "linear":
		return colorspace.LinearRGB, nil
	}
	return nil, fmt.Errorf("%w: color_space %q", ErrInvalidConfig, c.ColorSpace)
}
