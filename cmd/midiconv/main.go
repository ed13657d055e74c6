// Package main is the entry point for the midiconv CLI
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/api"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter/drivers"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	outputFile string
	configPath string
	verbose    bool
	quiet      bool
	serverPort int
	dumpEvents bool

	loops     int
	tpq       uint16
	noLoopExt bool
	fixVolume bool
	optVolume bool
	songTable string
	songCount int
	tracks    int
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "midiconv"})

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "midiconv",
	Short: "Convert sound-driver sequence data to Standard MIDI Files",
	Long: `midiconv converts music data of old sound drivers into Standard MIDI Files.

Supported drivers: GRC (Mega Drive), Twinkle Soft and FMP (PC-98).
It also merges format 1 MIDI files into a single format 0 track.

Examples:
  midiconv convert twinkle SONG.MF2 -o song.mid
  midiconv convert grc game.bin --song-table 0x7E000
  midiconv convert auto music.opi --loops 3
  midiconv midi1to0 song.mid
  midiconv inspect song.mid --events
  midiconv tui
  midiconv serve --port 8080`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case quiet:
			logger.SetLevel(log.ErrorLevel)
		case verbose:
			logger.SetLevel(log.DebugLevel)
			logger.SetReportCaller(true)
		}
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <format> <input>",
	Short: "Convert a sequence file to MIDI",
	Long: `Converts input with the given format. The format "auto" picks it from
the file extension or content. Files holding several songs are written as
<output>_XX.mid.`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

var midi1to0Cmd = &cobra.Command{
	Use:   "midi1to0 <input.mid>",
	Short: "Merge all tracks of a MIDI file into format 0",
	Args:  cobra.ExactArgs(1),
	RunE:  runMIDI1to0,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported formats",
	Args:  cobra.NoArgs,
	RunE:  runFormats,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mid>",
	Short: "Show the tracks of a MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML options file")

	// Conversion options
	for _, cmd := range []*cobra.Command{convertCmd, tuiCmd} {
		cmd.Flags().IntVarP(&loops, "loops", "l", converter.DefaultLoops, "How often infinite loops are played")
		cmd.Flags().Uint16Var(&tpq, "tpq", 0, "Ticks per quarter note (0 = format default)")
		cmd.Flags().BoolVar(&noLoopExt, "no-loop-ext", false, "Do not extend loops of short tracks")
		cmd.Flags().BoolVar(&fixVolume, "fix-volume", false, "Convert chip volume to MIDI on a dB scale")
		cmd.Flags().BoolVar(&optVolume, "opt-vol", true, "Drop volume writes that repeat the current value")
		cmd.Flags().StringVar(&songTable, "song-table", "", "Song list address in the ROM (hex)")
		cmd.Flags().IntVar(&songCount, "songs", 0, "Number of songs (0 = detect)")
		cmd.Flags().IntVar(&tracks, "tracks", 0, "Track table size (Twinkle, 0 = 10)")
	}

	// Output
	convertCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file or base name")
	midi1to0Cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")

	// inspect command
	inspectCmd.Flags().BoolVarP(&dumpEvents, "events", "e", false, "List every event")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")

	// Add commands
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(midi1to0Cmd)
	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

// parseSongTable reads a hex address with or without 0x prefix
func parseSongTable(s string) (int, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: song table %q", converter.ErrInvalidOptions, s)
	}
	return int(v), nil
}

// buildOptions layers defaults, the config file and explicitly set flags
func buildOptions(cmd *cobra.Command) (converter.Options, error) {
	opts := converter.DefaultOptions()
	if configPath != "" {
		var err error
		if opts, err = converter.LoadOptions(configPath); err != nil {
			return opts, err
		}
		logger.Debug("loaded options", "file", configPath)
	}

	flags := cmd.Flags()
	if flags.Changed("loops") {
		opts.Loops = loops
	}
	if flags.Changed("tpq") {
		opts.TicksPerQuarter = tpq
	}
	if flags.Changed("no-loop-ext") {
		opts.NoLoopExtension = noLoopExt
	}
	if flags.Changed("fix-volume") {
		opts.FixVolume = fixVolume
	}
	if flags.Changed("opt-vol") {
		opts.OptimizeVolume = optVolume
	}
	if flags.Changed("song-table") {
		v, err := parseSongTable(songTable)
		if err != nil {
			return opts, err
		}
		opts.SongTable = v
	}
	if flags.Changed("songs") {
		opts.SongCount = songCount
	}
	if flags.Changed("tracks") {
		opts.Tracks = tracks
	}
	if opts.Loops < 0 || opts.SongCount < 0 || opts.Tracks < 0 {
		return opts, fmt.Errorf("%w: negative value", converter.ErrInvalidOptions)
	}

	opts.Logger = logger
	return opts, nil
}

// resolveFormat looks up a format ID; "auto" detects it from the input
func resolveFormat(id, input string) (converter.Format, error) {
	if !strings.EqualFold(id, "auto") {
		return drivers.Lookup(id)
	}
	if f := converter.DetectFormat(input, drivers.All()); f != nil {
		return f, nil
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return drivers.Lookup(converter.DetectFormatFromContent(data))
}

func convertFile(format converter.Format, opts converter.Options, input string) error {
	conv := converter.New(format, opts)
	logger.Info("converting", "format", format.ID(), "input", input)

	paths, err := conv.ConvertFile(input, outputFile)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Printf("Converted %s -> %s\n", input, p)
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(args[0], args[1])
	if err != nil {
		return err
	}
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}
	return convertFile(format, opts, args[1])
}

func runMIDI1to0(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}
	return convertFile(drivers.NewMIDI1to0(), opts, args[0])
}

func runFormats(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEXTENSIONS\tDESCRIPTION")
	for _, f := range drivers.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID(), f.Name(), strings.Join(f.Extensions(), " "), f.Description())
	}
	return tw.Flush()
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	out := cmd.OutOrStdout()
	if dumpEvents {
		return converter.Dump(data, out)
	}

	sum, err := converter.Summarize(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Format %d, %d ticks per quarter, %d track(s)\n", sum.Format, sum.Resolution, len(sum.Tracks))
	if sum.Tempo > 0 {
		fmt.Fprintf(out, "Tempo %.2f BPM\n", sum.Tempo)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tEVENTS\tNOTES\tSYSEX\tTICKS\tNAME")
	for _, t := range sum.Tracks {
		sysex := fmt.Sprintf("%d", t.SysEx)
		if t.Roland > 0 {
			sysex += fmt.Sprintf(" (Roland %d)", t.Roland)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%d\t%s\n", t.Index, t.Events, t.Notes, sysex, t.Ticks, t.Name)
	}
	return tw.Flush()
}

func runTUI(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}
	// the TUI owns the terminal
	opts.Logger = nil
	return tui.Run(opts)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("starting API server", "port", serverPort)
	logger.Infof("Swagger docs available at http://localhost:%d/swagger/index.html", serverPort)
	return api.StartServer(serverPort, logger)
}
