package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cubetile/internal/api"
	"github.com/samcharles93/cubetile/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int64
		maxBatch    int64
		storeSize   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the tiling REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "requests per second across all clients (0 disables)",
				Destination: &rateLimit,
			},
			&cli.Int64Flag{
				Name:        "rate-burst",
				Usage:       "burst size for --rate-limit",
				Value:       20,
				Destination: &rateBurst,
			},
			&cli.Int64Flag{
				Name:        "max-batch",
				Usage:       "max descriptors per batch request",
				Value:       api.DefaultMaxBatch,
				Destination: &maxBatch,
			},
			&cli.Int64Flag{
				Name:        "store-size",
				Usage:       "tilings kept for GET /v1/tilings/:id",
				Value:       api.DefaultStoreSize,
				Destination: &storeSize,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, configFrom(ctx), &addr, &rateLimit, &rateBurst, &maxBatch)
			rt, err := newEnv(ctx)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)

			server := api.NewServer(api.Config{
				Tiler:           rt.tiler,
				Platforms:       rt.platforms,
				DefaultPlatform: platformName,
				Store:           api.NewTilingStore(int(storeSize)),
				MaxBatch:        int(maxBatch),
				Parallelism:     int(parallelism),
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			e.Use(api.RequestID(log))
			e.Use(api.ServerHeader())
			e.Use(api.RateLimit(rateLimit, int(rateBurst)))
			server.Register(e)
			log.Info("starting server", "address", addr, "platform", platformName, "rate_limit", rateLimit)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
