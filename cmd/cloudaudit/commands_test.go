package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/config"
	"cloudaudit/internal/invoke"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestAuditMock_EndToEnd(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, "audit", "--project-id", "demo-1", "--use-mock", "--output-dir", dir)
	if err != nil {
		t.Fatalf("audit: %v\n%s", err, out)
	}

	for _, name := range []string{"collected.json", "explained.json", "audit.md", "audit.html"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}
	for _, want := range []string{"COMPLETE", "collect", "explain", "report", "HIGH"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\ngot:\n%s", want, out)
		}
	}
}

func TestAuditMock_ByteIdenticalRuns(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()

	if _, err := runCLI(t, "audit", "--project-id", "demo-1", "--use-mock", "--output-dir", dirA); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := runCLI(t, "audit", "--project-id", "demo-1", "--use-mock", "--output-dir", dirB); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, name := range []string{"collected.json", "explained.json", "audit.md", "audit.html"} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(dirB, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("mock artifact %s differs between runs", name)
		}
	}
}

func TestStageByStageMockFlow(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--project-id", "demo-1", "--use-mock", "--output-dir", dir}

	for _, stage := range []string{"collect", "explain", "report"} {
		out, err := runCLI(t, append([]string{stage}, base...)...)
		if err != nil {
			t.Fatalf("%s: %v\n%s", stage, err, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "audit.md")); err != nil {
		t.Errorf("report not produced: %v", err)
	}
}

func TestExplainWithoutCollectFails(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, "explain", "--project-id", "demo-1", "--use-mock", "--output-dir", dir)
	var verr *artifact.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want artifact.ValidationError, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("exit code = %d; want 2", exitCode(err))
	}
}

func TestProjectIDRequired(t *testing.T) {
	if _, err := runCLI(t, "audit", "--use-mock"); err == nil {
		t.Fatal("want error when --project-id is missing")
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config error", &config.Error{Field: "workers", Reason: "must be positive"}, 2},
		{"validation error", &artifact.ValidationError{Slot: artifact.SlotCollected, Reason: "missing"}, 2},
		{"service error", &invoke.ServiceError{Service: "gcp", Operation: "getIamPolicy", Transient: true, Attempts: 3}, 1},
		{"cancellation", context.Canceled, 1},
		{"plain error", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode = %d; want %d", got, tc.want)
			}
		})
	}
}

func TestConfigFileOverrides(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "artifacts")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("output_dir: "+outDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "audit", "--project-id", "demo-1", "--use-mock", "--config", cfgPath)
	if err != nil {
		t.Fatalf("audit: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(outDir, "audit.md")); err != nil {
		t.Errorf("artifacts not written to configured dir: %v", err)
	}
}

func TestInvalidConfigExitsTwo(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("workers: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, "audit", "--project-id", "demo-1", "--use-mock", "--config", cfgPath)
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("want config.Error, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("exit code = %d; want 2", exitCode(err))
	}
}
