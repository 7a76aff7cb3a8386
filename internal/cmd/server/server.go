// Package server parses server command flags and composes the service
// entrypoint.
package server

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/imogine/internal/platform/cmd"
	server "github.com/louisbranch/imogine/internal/services/server"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr          string `env:"IMOGINE_HTTP_ADDR"       envDefault:":4000"`
	DBPath            string `env:"IMOGINE_DB_PATH"         envDefault:"imogine.db"`
	RecordingsDir     string `env:"IMOGINE_RECORDINGS_DIR"  envDefault:"recordings"`
	FFmpegBin         string `env:"IMOGINE_FFMPEG_BIN"`
	GestureServiceURL string `env:"IMOGINE_ML_SERVICE_URL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", cfg.RecordingsDir, "recordings directory")
	fs.StringVar(&cfg.FFmpegBin, "ffmpeg-bin", cfg.FFmpegBin, "ffmpeg binary path")
	fs.StringVar(&cfg.GestureServiceURL, "ml-service-url", cfg.GestureServiceURL, "gesture processor base URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			DBPath:            cfg.DBPath,
			RecordingsDir:     cfg.RecordingsDir,
			FFmpegBin:         cfg.FFmpegBin,
			GestureServiceURL: cfg.GestureServiceURL,
		}); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
}
