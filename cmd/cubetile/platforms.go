package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

func platformsCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "platforms",
		Usage: "List the known platform profiles",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			profiles := e.platforms.Profiles()
			w := cmd.Root().Writer
			if asJSON {
				return printJSON(w, profiles)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tCORES\tL0A\tL0B\tL0C\tL1\tUB\tDESCRIPTION")
			for _, p := range profiles {
				mark := ""
				if p.Name == platformName {
					mark = " *"
				}
				_, _ = fmt.Fprintf(tw, "%s%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n", p.Name, mark, p.CoreNum,
					kib(p.L0ASize), kib(p.L0BSize), kib(p.L0CSize), kib(p.L1Size), kib(p.UBSize), p.Description)
			}
			return tw.Flush()
		},
	}
}

func kib(n int64) string {
	if n%1024 == 0 {
		return fmt.Sprintf("%dK", n/1024)
	}
	return fmt.Sprintf("%dB", n)
}
