// Package converter turns sound-driver sequence data into Standard MIDI Files
package converter

// Song is one converted MIDI file
type Song struct {
	Index    int      // position in the source song list
	Name     string   // suggested file name suffix, e.g. "_03"
	Data     []byte   // complete SMF
	Warnings []string // non-fatal problems found while decoding
}

// Result holds all songs produced from one input
type Result struct {
	Format string
	Songs  []Song
}

// Format is a source format that can be converted to MIDI
type Format interface {
	ID() string
	Name() string
	Description() string
	Extensions() []string
	Convert(data []byte, opts Options) (*Result, error)
}

// Converter handles format conversions
type Converter struct {
	format Format
	opts   Options
}

// New creates a new Converter for the specified format
func New(format Format, opts Options) *Converter {
	return &Converter{format: format, opts: opts}
}

// GetFormat returns the current format
func (c *Converter) GetFormat() Format {
	return c.format
}

// SetFormat sets the format for conversion
func (c *Converter) SetFormat(format Format) {
	c.format = format
}

// Options returns the conversion options
func (c *Converter) Options() Options {
	return c.opts
}

// SetOptions replaces the conversion options
func (c *Converter) SetOptions(opts Options) {
	c.opts = opts
}
