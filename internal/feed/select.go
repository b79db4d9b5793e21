package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Options configure strategy selection.
type Options struct {
	Mode         Mode
	DatabaseURL  string
	Postgres     bool // the database is postgres
	RedisURL     string
	Channel      string
	PollInterval time.Duration
}

// ParseMode validates a mode string; empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeLocal, ModePostgres, ModeRedis, ModePoll:
		return m, nil
	}
	return "", fmt.Errorf("unknown feed mode %q", s)
}

// Select picks the change-feed strategy once, at startup. A push strategy
// that cannot be reached degrades to polling with a warning.
//
// In auto mode: redis when a redis URL is set, postgres for postgres
// databases, the in-process hub for SQLite, and polling without a database.
func Select(ctx context.Context, opts Options) Feed {
	mode := opts.Mode
	if mode == "" || mode == ModeAuto {
		switch {
		case opts.RedisURL != "":
			mode = ModeRedis
		case opts.DatabaseURL == "":
			mode = ModePoll
		case opts.Postgres:
			mode = ModePostgres
		default:
			mode = ModeLocal
		}
	}

	poll := func(reason string, err error) Feed {
		slog.Warn("change feed falling back to polling", "wanted", mode, "reason", reason, "error", err)
		return NewPoll(opts.PollInterval)
	}

	switch mode {
	case ModeLocal:
		return NewHub()
	case ModePostgres:
		if !opts.Postgres {
			return poll("database is not postgres", nil)
		}
		f, err := NewPostgres(ctx, opts.DatabaseURL, opts.Channel)
		if err != nil {
			return poll("postgres listener unavailable", err)
		}
		return f
	case ModeRedis:
		if opts.RedisURL == "" {
			return poll("no redis url configured", nil)
		}
		f, err := NewRedis(ctx, opts.RedisURL)
		if err != nil {
			return poll("redis unavailable", err)
		}
		return f
	default:
		return NewPoll(opts.PollInterval)
	}
}
