package converter

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-yaml"
)

// Default option values
const (
	DefaultLoops     = 2
	DefaultMaxOutput = 1 << 20
)

// Options holds the tunables shared by all formats. Zero values select the
// format's own default where one exists.
type Options struct {
	// TicksPerQuarter overrides the format's MIDI resolution
	TicksPerQuarter uint16 `yaml:"ticks_per_quarter"`
	// Loops is how often an infinite loop is played
	Loops int `yaml:"loops"`
	// NoLoopExtension disables raising the loop count of short tracks
	NoLoopExtension bool `yaml:"no_loop_extension"`
	// FixVolume converts chip volume to MIDI volume on a dB scale
	FixVolume bool `yaml:"fix_volume"`
	// OptimizeVolume drops volume writes that repeat the current value
	OptimizeVolume bool `yaml:"optimize_volume"`
	// SongTable is the offset of the song list inside a ROM image
	SongTable int `yaml:"song_table"`
	// SongCount limits the number of songs; 0 detects it from the song list
	SongCount int `yaml:"song_count"`
	// Tracks is the size of the track table for formats where it varies
	Tracks int `yaml:"tracks"`
	// MaxOutput caps the size of one converted song in bytes
	MaxOutput int `yaml:"max_output"`

	Logger *log.Logger `yaml:"-"`
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Loops:          DefaultLoops,
		OptimizeVolume: true,
		MaxOutput:      DefaultMaxOutput,
	}
}

// Log returns the configured logger or one that discards everything
func (o Options) Log() *log.Logger {
	if o.Logger == nil {
		return log.New(io.Discard)
	}
	return o.Logger
}

// LoopCount returns Loops, falling back to the default for values below 1
func (o Options) LoopCount() int {
	if o.Loops < 1 {
		return DefaultLoops
	}
	return o.Loops
}

// TPQ returns TicksPerQuarter or def if it is not set
func (o Options) TPQ(def uint16) uint16 {
	if o.TicksPerQuarter == 0 {
		return def
	}
	return o.TicksPerQuarter
}

// LoadOptions reads a YAML options file on top of DefaultOptions
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read options file: %w", err)
	}
	if err := ParseOptions(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// ParseOptions decodes YAML into opts. Keys not present keep their value;
// unknown keys are rejected.
func ParseOptions(data []byte, opts *Options) error {
	if err := yaml.UnmarshalWithOptions(data, opts, yaml.DisallowUnknownField()); err != nil {
		return fmt.Errorf("failed to parse options: %w", err)
	}
	if opts.Loops < 0 || opts.SongCount < 0 || opts.Tracks < 0 || opts.MaxOutput < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidOptions)
	}
	return nil
}
