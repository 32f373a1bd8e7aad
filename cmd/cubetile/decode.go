package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/pkg/tilingdata"
)

func decodeCmd() *cli.Command {
	var (
		op     string
		id     uint64
		asJSON bool
	)

	return &cli.Command{
		Name:      "decode",
		Usage:     "Explain a tiling id, or dump a .ctd tiling data file",
		ArgsUsage: "[file.ctd]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "op",
				Usage:       "op type the tiling id belongs to",
				Destination: &op,
			},
			&cli.Uint64Flag{
				Name:        "id",
				Usage:       "tiling id to decode",
				Destination: &id,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			if cmd.Args().Len() > 0 {
				return decodeFile(w, cmd.Args().First(), asJSON)
			}
			if op == "" || !cmd.IsSet("id") {
				return cli.Exit("decode needs a .ctd file or both --op and --id", 1)
			}
			fields, err := cubetiling.DecodeTilingID(cubetiling.OpType(op), id)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if asJSON {
				return printJSON(w, fields)
			}
			return printFields(w, fields)
		},
	}
}

type decodedRecord struct {
	OpType   cubetiling.OpType     `json:"op_type"`
	Tiling   cubetiling.CubeTiling `json:"tiling"`
	IDFields []cubetiling.IDField  `json:"id_fields"`
}

func decodeFile(w io.Writer, path string, asJSON bool) error {
	f, err := tilingdata.Open(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = f.Close() }()

	out := make([]decodedRecord, 0, f.Len())
	for i, r := range f.Records() {
		op, t, err := cubetiling.TilingFromRecord(r)
		if err != nil {
			return cli.Exit(fmt.Sprintf("record %d: %v", i, err), 1)
		}
		fields, err := cubetiling.DecodeTilingID(op, t.TilingID)
		if err != nil {
			return cli.Exit(fmt.Sprintf("record %d: %v", i, err), 1)
		}
		out = append(out, decodedRecord{OpType: op, Tiling: t, IDFields: fields})
	}
	if asJSON {
		return printJSON(w, out)
	}
	_, _ = fmt.Fprintf(w, "%s: format %d.%d, %d records, %d fields each\n",
		path, f.Header.Major, f.Header.Minor, f.Len(), f.Header.FieldCount)
	for i, rec := range out {
		_, _ = fmt.Fprintf(w, "\n[%d] %s block_dim=%d tiling_id=%#x\n", i, rec.OpType, rec.Tiling.BlockDim, rec.Tiling.TilingID)
		if err := printFields(w, rec.IDFields); err != nil {
			return err
		}
	}
	return nil
}

func printFields(w io.Writer, fields []cubetiling.IDField) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range fields {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\n", f.Name, f.Value)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
