package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/cubetile/internal/batch"
	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/pkg/tilingdata"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatCTD   = "ctd"
)

// genResult is one line of gen/batch output.
type genResult struct {
	Label    string                 `json:"label" yaml:"label"`
	OpType   cubetiling.OpType      `json:"op_type" yaml:"op_type"`
	Platform string                 `json:"platform" yaml:"platform"`
	Tiling   *cubetiling.CubeTiling `json:"tiling,omitempty" yaml:"tiling,omitempty"`
	Error    string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

func toResults(items []batch.Item, results []batch.Result) []genResult {
	out := make([]genResult, len(results))
	for i, r := range results {
		g := genResult{Label: r.Label, OpType: r.OpType, Platform: items[i].Params.Platform.SocVersion}
		if r.Err != nil {
			g.Error = r.Err.Error()
		} else {
			t := r.Tiling
			g.Tiling = &t
		}
		out[i] = g
	}
	return out
}

// outputFormat picks the format from the flag, then the output extension.
func outputFormat(path, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			format = formatJSON
		case ".yaml", ".yml":
			format = formatYAML
		case ".ctd":
			format = formatCTD
		default:
			format = formatTable
		}
	}
	switch format {
	case formatTable, formatJSON, formatYAML:
		return format, nil
	case formatCTD:
		if path == "" {
			return "", fmt.Errorf("ctd output needs --output")
		}
		return format, nil
	}
	return "", fmt.Errorf("unknown output format %q", format)
}

// emit writes results to path, or to stdout when path is empty. The ctd
// container only carries successful tilings.
func emit(stdout io.Writer, path, format string, items []batch.Item, results []batch.Result) error {
	format, err := outputFormat(path, format)
	if err != nil {
		return err
	}
	if format == formatCTD {
		recs := make([]tilingdata.Record, 0, len(results))
		for _, r := range results {
			if r.Err == nil {
				recs = append(recs, r.Tiling.Record(r.OpType))
			}
		}
		return tilingdata.WriteFile(path, cubetiling.ABIFieldCount, recs)
	}

	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return writeResults(w, format, toResults(items, results))
}

func writeResults(w io.Writer, format string, res []genResult) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeTable(w, res)
	}
}

func writeTable(w io.Writer, res []genResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LABEL\tOP\tPLATFORM\tBLOCK_DIM\tL0 (m,k,n)\tTILING_ID\tSTATUS")
	for _, r := range res {
		if r.Tiling == nil {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t-\t%s\n", r.Label, r.OpType, r.Platform, r.Error)
			continue
		}
		t := r.Tiling
		status := "ok"
		if t.SingleCoreFallback {
			status = "single core"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d,%d,%d\t%#x\t%s\n",
			r.Label, r.OpType, r.Platform, t.BlockDim, t.ML0, t.KL0, t.NL0, t.TilingID, status)
	}
	return tw.Flush()
}
