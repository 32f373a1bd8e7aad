package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/logger"
	"github.com/samcharles93/cubetile/internal/platform"
	"github.com/samcharles93/cubetile/internal/tunebank"
)

type configKey struct{}

// setup loads the config file, merges it into the global flags and puts
// the configured logger on the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := resolveConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 1)
	}
	applyGlobalConfig(cmd, cfg)

	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 1)
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log := logger.NewWithFormat(os.Stderr, format, level)
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// env is what the tiling commands share: the platform registry, the
// optional tuning bank and a Tiler wired to both.
type env struct {
	log       logger.Logger
	platforms *platform.Registry
	bank      *tunebank.Bank
	tiler     *cubetiling.Tiler
}

func newEnv(ctx context.Context) (*env, error) {
	log := logger.FromContext(ctx)
	e := &env{log: log, platforms: platform.NewRegistry()}

	if platformsFile != "" {
		n, err := e.platforms.LoadFile(platformsFile)
		if err != nil {
			return nil, cli.Exit(err.Error(), 1)
		}
		log.Debug("loaded platform profiles", "path", platformsFile, "count", n)
	}
	if _, err := e.platforms.Lookup(platformName); err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	opts := []cubetiling.Option{
		cubetiling.WithLogger(log),
		cubetiling.WithResultCacheSize(int(cacheSize)),
	}
	if tuneBankFile != "" {
		e.bank = tunebank.New()
		n, err := e.bank.LoadFile(tuneBankFile)
		if err != nil {
			return nil, cli.Exit(err.Error(), 1)
		}
		log.Debug("loaded tuning bank", "path", tuneBankFile, "entries", n)
		opts = append(opts, cubetiling.WithRepository(e.bank))
	}
	e.tiler = cubetiling.NewTiler(opts...)
	cubetiling.SetDefault(e.tiler)
	return e, nil
}
