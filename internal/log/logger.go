package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	DisableColors bool   `yaml:"disable_colors"`
}

func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// NewLogger builds the process logger. Text output is colored unless
// disabled or NO_COLOR is set.
func NewLogger(cfg Config, out io.Writer) (*logrus.Logger, error) {
	cfg.ApplyDefaults()
	if out == nil {
		out = os.Stdout
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	log := logrus.New()
	log.Out = out
	log.Level = level

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.Formatter = &logrus.JSONFormatter{}
	case "text":
		log.Formatter = &logrus.TextFormatter{
			DisableColors: cfg.DisableColors || os.Getenv("NO_COLOR") != "",
			ForceColors:   !cfg.DisableColors && os.Getenv("NO_COLOR") == "",
			FullTimestamp: true,
		}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return log, nil
}
