package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/validation"
)

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		in        string
		wantKey   string
		wantValue string
		wantErr   bool
	}{
		{in: "a=1", wantKey: "a", wantValue: "1"},
		{in: " a =1", wantKey: "a", wantValue: "1"},
		{in: "expr=x=y", wantKey: "expr", wantValue: "x=y"},
		{in: "empty=", wantKey: "empty", wantValue: ""},
		{in: "novalue", wantErr: true},
		{in: "=1", wantErr: true},
	}

	for _, tt := range tests {
		key, value, err := parseAssignment(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAssignment(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if key != tt.wantKey || value != tt.wantValue {
			t.Errorf("parseAssignment(%q) = %q, %q", tt.in, key, value)
		}
	}
}

func TestRequiredLabel(t *testing.T) {
	if got := requiredLabel(models.RequiredRule{Always: true}); got != "yes" {
		t.Errorf("Always = %q", got)
	}
	if got := requiredLabel(models.RequiredRule{When: "flag"}); got != "if flag" {
		t.Errorf("When = %q", got)
	}
	if got := requiredLabel(models.RequiredRule{}); got != "no" {
		t.Errorf("zero rule = %q", got)
	}
}

func TestSpecShowBuiltin(t *testing.T) {
	out, err := runCLI(t, "", "spec", "show", "stormwater")
	if err != nil {
		t.Fatalf("spec show failed: %v", err)
	}
	for _, want := range []string{
		"Stormwater Retention (natcap.invest.stormwater)",
		"KEY",
		"workspace_dir",
		"if adjust_retention_ratios",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
}

func TestSpecListBuiltin(t *testing.T) {
	out, err := runCLI(t, "", "spec", "list")
	if err != nil {
		t.Fatalf("spec list failed: %v", err)
	}
	if !strings.Contains(out, "natcap.invest.stormwater") || !strings.Contains(out, "natcap.invest.delineateit") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestValidateReportsMissingRequired(t *testing.T) {
	out, err := runCLI(t, "", "validate", "stormwater", "--set", "results_suffix=x")
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("validate error = %v, want ErrInvalidArguments", err)
	}
	if !strings.Contains(out, "workspace_dir") || !strings.Contains(out, validation.MsgRequired) {
		t.Errorf("output should name the missing workspace:\n%s", out)
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	_, err := runCLI(t, "", "validate", "stormwater", "--set", "colour=blue")
	if err == nil {
		t.Fatal("expected an error for a key outside the spec")
	}
}

func TestValidateNeedsModel(t *testing.T) {
	_, err := runCLI(t, "", "validate")
	if err == nil || !strings.Contains(err.Error(), "model name or --datastack") {
		t.Errorf("validate error = %v", err)
	}
}

func TestSaveAndLoadCommands(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "params.invs.json")

	_, err := runCLI(t, "",
		"save", "stormwater",
		"--set", "workspace_dir="+filepath.Join(dir, "ws"),
		"--set", "results_suffix=run1",
		"--workers", "2",
		"--out", out,
	)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("parameter set not written: %v", err)
	}
	ds, err := datastack.DeserializeDatastack(raw)
	if err != nil {
		t.Fatalf("parameter set does not parse: %v", err)
	}
	if ds.ModuleName != "natcap.invest.stormwater" {
		t.Errorf("model_name = %q", ds.ModuleName)
	}
	if ds.Args["results_suffix"] != "run1" || ds.Args["n_workers"] != "2" {
		t.Errorf("args = %v", ds.Args)
	}
	if ds.Args["workspace_dir"] != "ws" {
		t.Errorf("workspace_dir = %q, want it relative to the parameter set", ds.Args["workspace_dir"])
	}

	listing, err := runCLI(t, "", "load", out)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !strings.Contains(listing, "Stormwater Retention") || !strings.Contains(listing, "run1") {
		t.Errorf("unexpected load output:\n%s", listing)
	}
	if !strings.Contains(listing, filepath.Join(dir, "ws")) {
		t.Errorf("workspace should be resolved against the parameter set:\n%s", listing)
	}
}

func TestSaveRequiresOut(t *testing.T) {
	_, err := runCLI(t, "", "save", "stormwater")
	if err == nil || !strings.Contains(err.Error(), "out") {
		t.Errorf("save without --out error = %v", err)
	}
}

func TestPrintHistory(t *testing.T) {
	var b strings.Builder
	if err := printHistory(&b, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "No runs recorded") {
		t.Errorf("empty history output = %q", b.String())
	}

	b.Reset()
	records := []models.JobRecord{{
		ID:           "job-1",
		ModelName:    "natcap.invest.carbon",
		Status:       models.StatusSuccess,
		WorkspaceDir: "/tmp/ws",
		FinishedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
	if err := printHistory(&b, records); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"job-1", "natcap.invest.carbon", string(models.StatusSuccess), "/tmp/ws"} {
		if !strings.Contains(b.String(), want) {
			t.Errorf("history output should contain %q:\n%s", want, b.String())
		}
	}
}
