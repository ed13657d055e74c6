// Package main is the entry point for the midiconv API server
package main

import (
	"flag"
	"os"

	"github.com/charmbracelet/log"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/api"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	debug := flag.Bool("debug", false, "Log debug output")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "midiconv-server", ReportTimestamp: true})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	logger.Info("starting API server", "port", *port)
	logger.Infof("Swagger docs available at http://localhost:%d/swagger/index.html", *port)

	if err := api.StartServer(*port, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
