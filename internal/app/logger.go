package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SetupLogger настраивает глобальный logrus: text с полными метками времени или json.
func SetupLogger(level, format string) error {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	log.SetLevel(parsed)
	return nil
}
