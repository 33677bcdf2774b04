package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func useBufferWriters(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut
	t.Cleanup(func() { stdOut, stdErr = prevOut, prevErr })
	return out, errOut
}

func writeTestConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "bank.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("DATABANK_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{"check"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("environment should supply the path, got %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"-config", "/tmp/flag.toml", "warm", "/data"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" || opts.command != "warm" || opts.dir != "/data" {
		t.Fatalf("flag should win over environment, got %+v", opts)
	}
}

func TestParseCLIFlagsRejectsBadUsage(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"explode"},
		{"warm"},
		{"serve", "a", "b"},
		{"clear-hot", "x"},
		{"-nope", "check"},
	} {
		if _, err := parseCLIFlags(args); err == nil {
			t.Fatalf("args %v: expected error", args)
		}
	}
}

func TestRunCheckConfig(t *testing.T) {
	dir := t.TempDir()
	out, _ := useBufferWriters(t)
	path := writeTestConfig(t, dir, "[Log]\nFilePath = \""+filepath.ToSlash(filepath.Join(dir, "bank.log"))+"\"\n")
	if code := run(cliOptions{configPath: path, command: "check"}); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "config ok") {
		t.Fatalf("stdout %q", out.String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	dir := t.TempDir()
	_, errOut := useBufferWriters(t)
	path := writeTestConfig(t, dir, "[HotStorage]\nBackend = \"tape\"\n")
	if code := run(cliOptions{configPath: path, command: "check"}); code == 0 {
		t.Fatalf("invalid config should fail")
	}
	if !strings.Contains(errOut.String(), "HotStorage.Backend") {
		t.Fatalf("stderr %q", errOut.String())
	}
}

func TestRunWarmWritesHotCopies(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	for _, name := range []string{"one", "nested/two"} {
		p := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	hot := filepath.Join(dir, "hot")
	path := writeTestConfig(t, dir, `
[HotStorage]
Backend = "file"
Root = "`+filepath.ToSlash(hot)+`"

[Log]
FilePath = "`+filepath.ToSlash(filepath.Join(dir, "bank.log"))+`"
`)

	out, errOut := useBufferWriters(t)
	if code := run(cliOptions{configPath: path, command: "warm", dir: src}); code != 0 {
		t.Fatalf("warm exit %d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "warmed 2 files (2 hot") {
		t.Fatalf("stdout %q", out.String())
	}
	for _, rel := range []string{"one.hot", "nested/two.hot"} {
		if _, err := os.Stat(filepath.Join(hot, filepath.FromSlash(rel))); err != nil {
			t.Fatalf("missing hot copy %s: %v", rel, err)
		}
	}

	if code := run(cliOptions{configPath: path, command: "clear-hot"}); code != 0 {
		t.Fatalf("clear-hot exit %d stderr=%s", code, errOut.String())
	}
	entries, _ := os.ReadDir(hot)
	if len(entries) != 0 {
		t.Fatalf("hot storage not cleared: %d entries", len(entries))
	}
}
