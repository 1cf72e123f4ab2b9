package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	// Rank point deltas applied at game end. Loser delta is floored at zero.
	RankWinDelta  int
	RankLossDelta int

	// Per-user move submissions allowed per minute over the websocket.
	MoveRatePerMin int
	MoveBurst      int

	// Optional directory of YAML files overriding the embedded message catalog.
	MsgOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":8080",
		RankWinDelta:   3,
		RankLossDelta:  1,
		MoveRatePerMin: 60,
		MoveBurst:      10,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	if v := strings.TrimSpace(os.Getenv("RANK_WIN_DELTA")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RankWinDelta = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RANK_LOSS_DELTA")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RankLossDelta = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MOVE_RATE_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MoveRatePerMin = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MOVE_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MoveBurst = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
