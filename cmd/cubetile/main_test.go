package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/tunebank"
)

const descriptorsYAML = `
- name: proj
  op_type: MatMul
  a: {shape: [1024, 512]}
  b: {shape: [512, 256]}
- name: stem
  op_type: Conv2D
  a: {shape: [1, 16, 28, 28]}
  b: {shape: [32, 16, 3, 3]}
  pads: [1]
`

// infeasible fits no L0C buffer.
const infeasibleYAML = `
- name: tiny
  op_type: MatMul
  platform_info: {soc_version: tiny, core_num: 2, l0a_size: 65536, l0b_size: 65536, l0c_size: 512, l1_size: 524288, ub_size: 262144}
  a: {shape: [64, 64]}
  b: {shape: [64, 64]}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// runApp runs the CLI with an empty config file and returns its stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := writeFile(t, t.TempDir(), "config.yaml", "")
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	argv := append([]string{"cubetile", "--config", cfg, "--log-format", "text", "--log-level", "error"}, args...)
	err := app.Run(context.Background(), argv)
	return out.String(), err
}

func TestGenWritesJSON(t *testing.T) {
	dir := t.TempDir()
	desc := writeFile(t, dir, "ops.yaml", descriptorsYAML)

	out, err := runApp(t, "gen", "--format", "json", desc)
	if err != nil {
		t.Fatalf("gen: %v\n%s", err, out)
	}
	var res []genResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(res) != 2 || res[0].Label != "proj" || res[1].OpType != cubetiling.OpConv2D {
		t.Fatalf("results: %+v", res)
	}
	for _, r := range res {
		if r.Tiling == nil || !r.Tiling.IsValid() || r.Platform != "ascend910" {
			t.Fatalf("result %s: %+v", r.Label, r)
		}
	}
}

func TestGenCTDThenDecode(t *testing.T) {
	dir := t.TempDir()
	desc := writeFile(t, dir, "ops.yaml", descriptorsYAML)
	ctd := filepath.Join(dir, "tilings.ctd")

	if out, err := runApp(t, "gen", "-o", ctd, desc); err != nil {
		t.Fatalf("gen: %v\n%s", err, out)
	}
	out, err := runApp(t, "decode", "--json", ctd)
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	var recs []decodedRecord
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(recs) != 2 || recs[0].OpType != cubetiling.OpMatMul || recs[1].OpType != cubetiling.OpConv2D {
		t.Fatalf("records: %+v", recs)
	}
	if len(recs[0].IDFields) == 0 {
		t.Fatal("missing id fields")
	}

	text, err := runApp(t, "decode", ctd)
	if err != nil || !strings.Contains(text, "2 records") {
		t.Fatalf("text decode: %v\n%s", err, text)
	}
}

func TestDecodeTilingIDFlags(t *testing.T) {
	out, err := runApp(t, "decode", "--op", "Conv2D", "--id", "1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out, "binary_mode") {
		t.Fatalf("output: %s", out)
	}
	if _, err := runApp(t, "decode", "--op", "Conv2D"); err == nil {
		t.Fatal("decode without --id should fail")
	}
	if _, err := runApp(t, "decode", "--op", "Einsum", "--id", "1"); err == nil {
		t.Fatal("unknown op should fail")
	}
}

func TestGenFailsOnInfeasible(t *testing.T) {
	dir := t.TempDir()
	desc := writeFile(t, dir, "bad.yaml", infeasibleYAML)
	if _, err := runApp(t, "gen", desc); err == nil {
		t.Fatal("gen should fail")
	}
}

func TestBatchReportsFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "ops.yaml", descriptorsYAML)
	bad := writeFile(t, dir, "bad.yaml", infeasibleYAML)

	out, err := runApp(t, "batch", "--format", "json", good, bad)
	if err == nil {
		t.Fatal("batch with failures should exit non-zero")
	}
	var res []genResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(res) != 3 || res[2].Error == "" || res[2].Tiling != nil {
		t.Fatalf("results: %+v", res)
	}

	if _, err := runApp(t, "batch", "--allow-failures", "-o", filepath.Join(dir, "out.yaml"), good, bad); err != nil {
		t.Fatalf("batch --allow-failures: %v", err)
	}
}

func TestGenSavesTuningBank(t *testing.T) {
	dir := t.TempDir()
	desc := writeFile(t, dir, "ops.yaml", descriptorsYAML)
	bankPath := filepath.Join(dir, "bank.yaml")

	if out, err := runApp(t, "gen", "--save-bank", bankPath, desc); err != nil {
		t.Fatalf("gen: %v\n%s", err, out)
	}
	bank := tunebank.New()
	n, err := bank.LoadFile(bankPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries: got %d want 2", n)
	}

	// the saved bank now serves the same problems
	out, err := runApp(t, "--tune-bank", bankPath, "gen", "--format", "json", desc)
	if err != nil {
		t.Fatalf("gen with bank: %v\n%s", err, out)
	}
}

func TestListCommands(t *testing.T) {
	out, err := runApp(t, "platforms")
	if err != nil || !strings.Contains(out, "ascend910 *") {
		t.Fatalf("platforms: %v\n%s", err, out)
	}
	out, err = runApp(t, "families")
	if err != nil || !strings.Contains(out, "Conv Dx") {
		t.Fatalf("families: %v\n%s", err, out)
	}
	out, err = runApp(t, "version")
	if err != nil || !strings.Contains(out, "version:") {
		t.Fatalf("version: %v\n%s", err, out)
	}
	if _, err := runApp(t, "--platform", "tpu", "platforms"); err == nil {
		t.Fatal("unknown default platform should fail")
	}
}

func TestFamilyTitle(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"matmul":         "Matmul",
		"conv_dx":        "Conv Dx",
		"conv_transpose": "Conv Transpose",
	}
	for in, want := range tests {
		if got := familyTitle(in); got != want {
			t.Fatalf("familyTitle(%q): got %q want %q", in, got, want)
		}
	}
}

func TestOutputFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, format, want string
		wantErr            bool
	}{
		{"", "", formatTable, false},
		{"out.json", "", formatJSON, false},
		{"out.YML", "", formatYAML, false},
		{"out.ctd", "", formatCTD, false},
		{"", "ctd", "", true},
		{"out.txt", "JSON", formatJSON, false},
		{"", "xml", "", true},
	}
	for _, tc := range tests {
		got, err := outputFormat(tc.path, tc.format)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("outputFormat(%q, %q): got %q err %v", tc.path, tc.format, got, err)
		}
	}
}
