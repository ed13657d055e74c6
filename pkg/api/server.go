// Package api provides the REST API server for midiconv
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter"
	"github.com/ValleyBell/MidiConverters-sub001/pkg/converter/drivers"
)

// @title midiconv API
// @version 1.0
// @description API for converting sound-driver sequence data to Standard MIDI Files
// @host localhost:8080
// @BasePath /api/v1

// maxUpload limits the size of an uploaded file
const maxUpload = 16 << 20

// StartServer starts the API server on the specified port
func StartServer(port int, logger *log.Logger) error {
	return NewRouter(logger).Run(fmt.Sprintf(":%d", port))
}

// NewRouter builds the gin engine with all routes
func NewRouter(logger *log.Logger) *gin.Engine {
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{logger: logger.With("component", "api")}

	r := gin.Default()
	r.MaxMultipartMemory = maxUpload

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/formats", listFormats)
		v1.POST("/convert/:format", h.handleConvert)
		v1.POST("/midi1to0", h.handleMIDI1to0)
		v1.POST("/inspect", h.handleInspect)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type handler struct {
	logger *log.Logger
}

// formatInfo describes a registered format
type formatInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Extensions  []string `json:"extensions"`
}

// songResponse is one converted song; Data is base64 in JSON
type songResponse struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Data     []byte   `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

// convertQuery holds the conversion options accepted as query parameters
type convertQuery struct {
	Loops     int    `form:"loops"`
	TPQ       uint16 `form:"tpq"`
	SongTable string `form:"song_table"`
	Songs     int    `form:"songs"`
	Tracks    int    `form:"tracks"`
	FixVolume bool   `form:"fix_volume"`
	NoLoopExt bool   `form:"no_loop_ext"`
}

// options applies the query on top of the default options
func (q convertQuery) options() (converter.Options, error) {
	opts := converter.DefaultOptions()
	if q.Loops < 0 || q.Songs < 0 || q.Tracks < 0 {
		return opts, fmt.Errorf("%w: negative value", converter.ErrInvalidOptions)
	}
	if q.Loops > 0 {
		opts.Loops = q.Loops
	}
	opts.TicksPerQuarter = q.TPQ
	opts.SongCount = q.Songs
	opts.Tracks = q.Tracks
	opts.FixVolume = q.FixVolume
	opts.NoLoopExtension = q.NoLoopExt
	if q.SongTable != "" {
		v, err := strconv.ParseInt(q.SongTable, 0, 32)
		if err != nil || v < 0 {
			return opts, fmt.Errorf("%w: song_table %q", converter.ErrInvalidOptions, q.SongTable)
		}
		opts.SongTable = int(v)
	}
	return opts, nil
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "midiconv",
	})
}

// listFormats godoc
// @Summary List supported formats
// @Description Returns the registered source formats
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]formatInfo
// @Router /api/v1/formats [get]
func listFormats(c *gin.Context) {
	formats := drivers.All()
	infos := make([]formatInfo, len(formats))
	for i, f := range formats {
		infos[i] = formatInfo{
			ID:          f.ID(),
			Name:        f.Name(),
			Description: f.Description(),
			Extensions:  f.Extensions(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"formats": infos})
}

// handleConvert godoc
// @Summary Convert a sequence file to MIDI
// @Description Upload a file of the given format. A single song is returned as a MIDI file, several songs as JSON.
// @Tags convert
// @Accept multipart/form-data
// @Produce audio/midi
// @Produce json
// @Param format path string true "Source format (grc, twinkle, fmp, midi1to0)"
// @Param file formData file true "File to convert"
// @Param loops query int false "Loop count (default 2)"
// @Param tpq query int false "Ticks per quarter note"
// @Param song_table query string false "GRC song list address, decimal or 0x hex"
// @Param songs query int false "Number of songs (0 = detect)"
// @Param tracks query int false "Twinkle track table size"
// @Param fix_volume query bool false "Convert chip volume on a dB scale"
// @Param no_loop_ext query bool false "Do not extend loops of short tracks"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/convert/{format} [post]
func (h *handler) handleConvert(c *gin.Context) {
	format, err := drivers.Lookup(c.Param("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.convert(c, format)
}

// handleMIDI1to0 godoc
// @Summary Merge a MIDI file into format 0
// @Description Upload a Standard MIDI File and receive it with all tracks merged
// @Tags convert
// @Accept multipart/form-data
// @Produce audio/midi
// @Param file formData file true "MIDI file"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/midi1to0 [post]
func (h *handler) handleMIDI1to0(c *gin.Context) {
	h.convert(c, drivers.NewMIDI1to0())
}

// handleInspect godoc
// @Summary Inspect a MIDI file
// @Description Upload a Standard MIDI File and receive per-track statistics
// @Tags info
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "MIDI file"
// @Success 200 {object} converter.Summary
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/inspect [post]
func (h *handler) handleInspect(c *gin.Context) {
	data, _, ok := readUpload(c)
	if !ok {
		return
	}
	sum, err := converter.Summarize(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *handler) convert(c *gin.Context, format converter.Format) {
	var q convertQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts, err := q.options()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, filename, ok := readUpload(c)
	if !ok {
		return
	}
	opts.Logger = h.logger.With("file", filename)

	res, err := converter.New(format, opts).Convert(data)
	if err != nil {
		h.logger.Warn("conversion failed", "format", format.ID(), "file", filename, "err", err)
		status := http.StatusUnprocessableEntity
		if errors.Is(err, converter.ErrInvalidOptions) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	outputName := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)) + ".mid"
	paths := converter.OutputPaths(outputName, res)

	if len(res.Songs) == 1 {
		song := res.Songs[0]
		for _, w := range song.Warnings {
			c.Writer.Header().Add("X-Conversion-Warning", w)
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", paths[0]))
		c.Data(http.StatusOK, "audio/midi", song.Data)
		return
	}

	songs := make([]songResponse, len(res.Songs))
	for i, s := range res.Songs {
		songs[i] = songResponse{Name: s.Name, File: paths[i], Data: s.Data, Warnings: s.Warnings}
	}
	c.JSON(http.StatusOK, gin.H{
		"format": res.Format,
		"songs":  songs,
	})
}

// readUpload reads the multipart "file" field. On failure it writes the
// error response and returns ok = false.
func readUpload(c *gin.Context) (data []byte, filename string, ok bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	data, err = io.ReadAll(io.LimitReader(file, maxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return nil, "", false
	}
	if len(data) > maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return nil, "", false
	}
	return data, header.Filename, true
}
