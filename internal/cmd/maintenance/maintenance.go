// Package maintenance implements the recordings cleanup command.
package maintenance

import (
	"context"
	"flag"
	"fmt"
	"log"

	entrypoint "github.com/louisbranch/imogine/internal/platform/cmd"
	"github.com/louisbranch/imogine/internal/recording"
	"github.com/louisbranch/imogine/internal/session/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath        string `env:"IMOGINE_DB_PATH"         envDefault:"imogine.db"`
	RecordingsDir string `env:"IMOGINE_RECORDINGS_DIR"  envDefault:"recordings"`

	// All clears every session's recording reference before purging, which
	// removes every stored blob.
	All bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", cfg.RecordingsDir, "recordings directory")
	fs.BoolVar(&cfg.All, "all", false, "clear all recording references and purge every blob")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run purges recording blobs no session references. Superseded uploads and
// their derived variants accumulate between runs; this reclaims them.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMaintenance, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()

		blobs, err := recording.NewBlobStore(cfg.RecordingsDir)
		if err != nil {
			return fmt.Errorf("open recordings store: %w", err)
		}

		if cfg.All {
			cleared, err := store.ClearRecordingRefs(ctx)
			if err != nil {
				return fmt.Errorf("clear recording references: %w", err)
			}
			log.Printf("cleared %d recording references", cleared)
		}

		referenced, err := store.ListRecordingNames(ctx)
		if err != nil {
			return fmt.Errorf("list referenced recordings: %w", err)
		}

		removed, err := blobs.PurgeExcept(referenced)
		if err != nil {
			return fmt.Errorf("purge recordings: %w", err)
		}
		log.Printf("purged %d blobs, kept %d referenced recordings", len(removed), len(referenced))
		return nil
	})
}
