package converter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format IDs
const (
	FormatGRC      = "grc"
	FormatTwinkle  = "twinkle"
	FormatFMP      = "fmp"
	FormatMIDI1to0 = "midi1to0"
	FormatUnknown  = "unknown"
)

var (
	// ErrUnknownFormat is returned when no format matches the input
	ErrUnknownFormat = errors.New("unknown format")
	// ErrNoSongs is returned when an input contains nothing to convert
	ErrNoSongs = errors.New("no songs found")
	// ErrInputTooShort is returned when the input is smaller than its header
	ErrInputTooShort = errors.New("input too short")
	// ErrInvalidOptions is returned for option values outside their range
	ErrInvalidOptions = errors.New("invalid options")
)

// DetectFormat picks the format whose extensions match the filename
func DetectFormat(filename string, formats []Format) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil
	}
	for _, f := range formats {
		for _, e := range f.Extensions() {
			if e == ext {
				return f
			}
		}
	}
	return nil
}

// DetectFormatFromContent guesses the format ID from the file content
func DetectFormatFromContent(data []byte) string {
	if len(data) < 4 {
		return FormatUnknown
	}

	// Check for MIDI file signature "MThd"
	if string(data[:4]) == "MThd" {
		return FormatMIDI1to0
	}

	if looksLikeFMP(data) {
		return FormatFMP
	}
	return FormatUnknown
}

// looksLikeFMP checks the version byte and that the track table points
// into the file.
func looksLikeFMP(data []byte) bool {
	const tableEnd = 0x04 + 20*2
	if data[0] != 0x02 || len(data) <= tableEnd {
		return false
	}
	for pos := 0x04; pos < tableEnd; pos += 2 {
		ofs := int(data[pos]) | int(data[pos+1])<<8
		if ofs < tableEnd || ofs >= len(data) {
			return false
		}
	}
	return true
}

// Convert converts data with the current format and options
func (c *Converter) Convert(data []byte) (*Result, error) {
	if c.format == nil {
		return nil, errors.New("no format configured")
	}
	res, err := c.format.Convert(data, c.opts)
	if err != nil {
		return nil, fmt.Errorf("%s conversion failed: %w", c.format.ID(), err)
	}
	if len(res.Songs) == 0 {
		return nil, ErrNoSongs
	}
	return res, nil
}

// ConvertFile converts inputPath and writes the MIDI files. A single song
// is written to outputPath; several songs are written next to it as
// <base>_XX.mid. It returns the paths written.
func (c *Converter) ConvertFile(inputPath, outputPath string) ([]string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	res, err := c.Convert(data)
	if err != nil {
		return nil, err
	}

	if outputPath == "" {
		outputPath = DefaultOutputPath(inputPath)
	}
	paths := OutputPaths(outputPath, res)
	for i, song := range res.Songs {
		if err := os.WriteFile(paths[i], song.Data, 0644); err != nil {
			return paths[:i], fmt.Errorf("failed to write output file: %w", err)
		}
	}
	return paths, nil
}

// DefaultOutputPath returns the input path with a .mid extension. A MIDI
// input gets a "_0" suffix so it is not overwritten.
func DefaultOutputPath(inputPath string) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	out := base + ".mid"
	if out == inputPath {
		out = base + "_0.mid"
	}
	return out
}

// OutputPaths returns the file name for every song of res
func OutputPaths(outputPath string, res *Result) []string {
	if len(res.Songs) == 1 && res.Songs[0].Name == "" {
		return []string{outputPath}
	}
	ext := filepath.Ext(outputPath)
	if ext == "" {
		ext = ".mid"
	}
	base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))

	paths := make([]string, len(res.Songs))
	for i, song := range res.Songs {
		name := song.Name
		if name == "" {
			name = SongSuffix(song.Index)
		}
		paths[i] = base + name + ext
	}
	return paths
}

// SongSuffix returns the file name suffix of a song in a multi-song output
func SongSuffix(index int) string {
	return fmt.Sprintf("_%02X", index)
}

// Warnings returns all song warnings prefixed with the song name
func (r *Result) Warnings() []string {
	var out []string
	for _, s := range r.Songs {
		for _, w := range s.Warnings {
			if s.Name != "" {
				w = strings.TrimPrefix(s.Name, "_") + ": " + w
			}
			out = append(out, w)
		}
	}
	return out
}
