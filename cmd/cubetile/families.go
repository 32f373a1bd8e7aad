package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/samcharles93/cubetile/internal/cubetiling"
)

func familiesCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "families",
		Usage: "List op types, their tiling family and tiling id fields",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			families := cubetiling.Families()
			w := cmd.Root().Writer
			if asJSON {
				return printJSON(w, families)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "OP\tFAMILY\tDIMS\tK SPLIT\tID FIELDS")
			for _, f := range families {
				dims := "2d"
				if f.ThreeD {
					dims = "3d"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", f.OpType, familyTitle(f.Family), dims, f.KSplit, strings.Join(f.IDFields, ","))
			}
			return tw.Flush()
		},
	}
}

var titleCaser = cases.Title(language.English)

// familyTitle turns a family name like "conv_dx" into "Conv Dx".
func familyTitle(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}
