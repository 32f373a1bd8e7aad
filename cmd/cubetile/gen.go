package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cubetile/internal/batch"
	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/opdesc"
	"github.com/samcharles93/cubetile/internal/tunebank"
)

func genCmd() *cli.Command {
	var (
		output      string
		format      string
		stdinFormat string
		saveBank    string
	)

	return &cli.Command{
		Name:      "gen",
		Usage:     "Generate tilings for operator descriptor files",
		ArgsUsage: "<descriptor.{json,yaml}>... (- reads stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write results to a file instead of stdout",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "output format (table, json, yaml, ctd); defaults from the output extension",
				Destination: &format,
			},
			&cli.StringFlag{
				Name:        "stdin-format",
				Usage:       "encoding of descriptors read from stdin (json, yaml)",
				Value:       "json",
				Destination: &stdinFormat,
			},
			&cli.StringFlag{
				Name:        "save-bank",
				Usage:       "also store the tilings as a tuning bank file",
				Destination: &saveBank,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			items, err := loadItems(e, cmd.Args().Slice(), os.Stdin, opdesc.Encoding(stdinFormat))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			results := batch.Run(ctx, e.tiler, items, int(parallelism))
			for _, r := range results {
				if r.Err != nil {
					return cli.Exit(fmt.Sprintf("%s: %v", r.Label, r.Err), 1)
				}
			}
			if saveBank != "" {
				if err := saveTuned(e, items, results, saveBank); err != nil {
					return cli.Exit(err.Error(), 1)
				}
				e.log.Info("saved tuning bank", "path", saveBank, "entries", len(results))
			}
			if err := emit(cmd.Root().Writer, output, format, items, results); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

func batchCmd() *cli.Command {
	var (
		output        string
		format        string
		stdinFormat   string
		allowFailures bool
	)

	return &cli.Command{
		Name:      "batch",
		Usage:     "Tile many descriptors, reporting failures instead of stopping",
		ArgsUsage: "<descriptor.{json,yaml}>... (- reads stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write results to a file instead of stdout",
				Destination: &output,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "output format (table, json, yaml, ctd); defaults from the output extension",
				Destination: &format,
			},
			&cli.StringFlag{
				Name:        "stdin-format",
				Usage:       "encoding of descriptors read from stdin (json, yaml)",
				Value:       "json",
				Destination: &stdinFormat,
			},
			&cli.BoolFlag{
				Name:        "allow-failures",
				Usage:       "exit 0 even when some descriptors fail",
				Destination: &allowFailures,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			items, err := loadItems(e, cmd.Args().Slice(), os.Stdin, opdesc.Encoding(stdinFormat))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			results := batch.Run(ctx, e.tiler, items, int(parallelism))
			if err := emit(cmd.Root().Writer, output, format, items, results); err != nil {
				return cli.Exit(err.Error(), 1)
			}

			sum := batch.Summarize(results)
			e.log.Info("batch done",
				"total", sum.Total,
				"succeeded", sum.Succeeded,
				"failed", sum.Failed,
				"single_core_fallbacks", sum.Fallbacks,
			)
			for stage, n := range sum.ByStage {
				e.log.Warn("failures by stage", "stage", stage, "count", n)
			}
			if bank := e.bank; bank != nil {
				e.log.Debug("tuning bank hits", "hits", bank.Hits())
			}
			if sum.Failed > 0 && !allowFailures {
				return cli.Exit(fmt.Sprintf("%d of %d descriptors failed", sum.Failed, sum.Total), 1)
			}
			return nil
		},
	}
}

// loadItems decodes every descriptor file and resolves it to tiling
// parameters. "-" reads from stdin in the given encoding.
func loadItems(e *env, paths []string, stdin io.Reader, stdinEnc opdesc.Encoding) ([]batch.Item, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no descriptor files given")
	}
	var items []batch.Item
	for _, path := range paths {
		var (
			descs []opdesc.Descriptor
			err   error
		)
		if path == "-" {
			data, rerr := io.ReadAll(stdin)
			if rerr != nil {
				return nil, fmt.Errorf("read stdin: %w", rerr)
			}
			descs, err = opdesc.Decode(data, stdinEnc)
		} else {
			descs, err = opdesc.DecodeFile(path)
		}
		if err != nil {
			return nil, err
		}
		for i := range descs {
			d := &descs[i]
			params, err := d.Param(e.platforms, platformName)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", path, d.Label(), err)
			}
			items = append(items, batch.Item{Label: d.Label(), Params: params})
		}
	}
	return items, nil
}

// saveTuned adds every tiling to the loaded bank (or a new one) under its
// canonical shape and writes the bank to path.
func saveTuned(e *env, items []batch.Item, results []batch.Result, path string) error {
	bank := e.bank
	if bank == nil {
		bank = tunebank.New()
	}
	for i, r := range results {
		key, err := bankKey(&items[i].Params)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Label, err)
		}
		if err := bank.Add(key, r.Tiling); err != nil {
			return fmt.Errorf("%s: %w", r.Label, err)
		}
	}
	return bank.WriteFile(path)
}

func bankKey(p *cubetiling.CubeTilingParam) (tunebank.Key, error) {
	impl, err := cubetiling.NewImpl(p.OpType)
	if err != nil {
		return tunebank.Key{}, err
	}
	defer impl.Clear()
	if err := impl.Init(p); err != nil {
		return tunebank.Key{}, err
	}
	return tunebank.Key{OpType: p.OpType, SocVersion: p.Platform.SocVersion, Shape: impl.Shape()}, nil
}
