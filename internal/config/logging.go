package config

import (
    "fmt"
    "strings"

    log "github.com/sirupsen/logrus"
)

// Apply configures logger from the log section.
func (l Log) Apply(logger *log.Logger) error {
    level := log.InfoLevel
    if l.Level != "" {
        lv, err := log.ParseLevel(l.Level)
        if err != nil {
            return fmt.Errorf("log.level: %w", err)
        }
        level = lv
    }
    logger.SetLevel(level)

    switch strings.ToLower(l.Format) {
    case "json":
        logger.SetFormatter(&log.JSONFormatter{})
    default:
        logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
    }
    return nil
}
