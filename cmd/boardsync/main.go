package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/boardsync/internal/board"
	"github.com/agentworkforce/boardsync/internal/boardsync"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "boardsync").Logger()

	baseURL := flag.String("base-url", envOrDefault("BOARDSYNC_BASE_URL", "http://127.0.0.1:8080"), "API base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("BOARDSYNC_TOKEN")), "bearer token")
	workspaceID := flag.String("workspace", strings.TrimSpace(os.Getenv("BOARDSYNC_WORKSPACE")), "workspace ID")
	brandID := flag.String("brand", strings.TrimSpace(os.Getenv("BOARDSYNC_BRAND")), "brand ID")
	kind := flag.String("kind", envOrDefault("BOARDSYNC_KIND", string(board.KindTask)), "board kind (task|content)")
	pageSize := flag.Int("page-size", intEnv(logger, "BOARDSYNC_PAGE_SIZE", boardsync.DefaultPageSize), "records per page")
	inbox := flag.String("inbox", strings.TrimSpace(os.Getenv("BOARDSYNC_INBOX")), "directory watched for intent files")
	snapshotDSN := flag.String("snapshot-dsn", strings.TrimSpace(os.Getenv("BOARDSYNC_SNAPSHOT_DSN")), "board mirror DSN (file path, memory://, postgres://, redis://)")
	refreshInterval := flag.Duration("refresh-interval", durationEnv(logger, "BOARDSYNC_REFRESH_INTERVAL", 0), "periodic refetch interval (0 disables)")
	refreshJitter := flag.Float64("interval-jitter", floatEnv(logger, "BOARDSYNC_REFRESH_JITTER", 0.2), "refresh interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv(logger, "BOARDSYNC_TIMEOUT", 15*time.Second), "per-request timeout")
	window := flag.Duration("suppression-window", durationEnv(logger, "BOARDSYNC_SUPPRESSION_WINDOW", boardsync.DefaultSuppressionWindow), "echo suppression window after a local edit")
	logLevel := flag.String("log-level", envOrDefault("BOARDSYNC_LOG_LEVEL", "info"), "log level")
	once := flag.Bool("once", false, "load the board, write one snapshot and exit")
	flag.Parse()

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(*logLevel)))
	if err != nil {
		logger.Fatal().Err(err).Str("level", *logLevel).Msg("invalid log level")
	}
	logger = logger.Level(level)

	if strings.TrimSpace(*workspaceID) == "" {
		logger.Fatal().Msg("workspace is required (--workspace or BOARDSYNC_WORKSPACE)")
	}
	if strings.TrimSpace(*brandID) == "" {
		logger.Fatal().Msg("brand is required (--brand or BOARDSYNC_BRAND)")
	}
	parsedKind, err := board.ParseKind(*kind)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid kind")
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}
	if *refreshInterval < 0 {
		*refreshInterval = 0
	}

	cfg := config{
		BaseURL:           strings.TrimSpace(*baseURL),
		Token:             strings.TrimSpace(*token),
		WorkspaceID:       strings.TrimSpace(*workspaceID),
		BrandID:           strings.TrimSpace(*brandID),
		Kind:              parsedKind,
		PageSize:          *pageSize,
		InboxDir:          strings.TrimSpace(*inbox),
		SnapshotDSN:       strings.TrimSpace(*snapshotDSN),
		RefreshInterval:   *refreshInterval,
		RefreshJitter:     clampJitterRatio(*refreshJitter),
		Timeout:           *timeout,
		SuppressionWindow: *window,
		Once:              *once,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("boardsync stopped")
	}
	logger.Info().Msg("boardsync stopped")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(logger zerolog.Logger, name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn().Str("env", name).Str("value", raw).Dur("fallback", fallback).Msg("invalid duration, using fallback")
		return fallback
	}
	return value
}

func floatEnv(logger zerolog.Logger, name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn().Str("env", name).Str("value", raw).Float64("fallback", fallback).Msg("invalid number, using fallback")
		return fallback
	}
	return value
}

func intEnv(logger zerolog.Logger, name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn().Str("env", name).Str("value", raw).Int("fallback", fallback).Msg("invalid integer, using fallback")
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
