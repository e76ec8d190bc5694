// Package sessionid mints session and user identifiers for scripts and
// manual testing against a running sync server.
package sessionid

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
)

// Config holds configuration for identifier generation.
type Config struct {
	Kind  string
	Count int
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Kind: "session", Count: 1}
	fs.StringVar(&cfg.Kind, "kind", cfg.Kind, "identifier kind: session or user")
	fs.IntVar(&cfg.Count, "count", cfg.Count, "number of identifiers to mint")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints the identifiers and writes them to out, one per line.
func Run(cfg Config, out io.Writer) error {
	if cfg.Count <= 0 {
		return errors.New("count must be greater than zero")
	}
	if out == nil {
		return errors.New("output is required")
	}

	for i := 0; i < cfg.Count; i++ {
		var minted string
		switch cfg.Kind {
		case "session":
			minted = domain.NewSessionID()
		case "user":
			userID, err := domain.NewUserID()
			if err != nil {
				return fmt.Errorf("mint user id: %w", err)
			}
			minted = userID
		default:
			return fmt.Errorf("unknown identifier kind %q", cfg.Kind)
		}
		if _, err := fmt.Fprintln(out, minted); err != nil {
			return err
		}
	}
	return nil
}
