// Package integration runs the jetstream binary end to end.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	// jetstreamBin is the path to the built jetstream binary.
	jetstreamBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot walks up from the working directory to the go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// TestEnv is an isolated config and data directory plus a schema file.
type TestEnv struct {
	t       *testing.T
	TempDir string
	Config  string
	DataDir string
	Schema  string
}

const peopleSchema = `types:
  - name: Person
    properties:
      - {name: name, kind: String}
      - {name: age, kind: Number}
      - {name: children, kind: "[Person]"}
      - {name: pet, kind: Animal}
  - name: Animal
    properties:
      - {name: name, kind: String}
  - name: Dog
    extends: Animal
    properties:
      - {name: good, kind: Boolean}
`

// NewTestEnv creates a new isolated test environment whose config.yaml
// points at the people schema.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	if buildErr != nil {
		t.Fatalf("failed to build jetstream: %v", buildErr)
	}
	if jetstreamBin == "" {
		t.Fatal("jetstream binary not built")
	}

	tempDir := t.TempDir()
	env := &TestEnv{
		t:       t,
		TempDir: tempDir,
		Config:  filepath.Join(tempDir, "config"),
		DataDir: filepath.Join(tempDir, "data"),
		Schema:  filepath.Join(tempDir, "schema.yaml"),
	}
	if err := os.MkdirAll(env.Config, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	env.WriteFile("schema.yaml", peopleSchema)
	configContent := "backend: sqlite\nschema: " + env.Schema + "\nroot_type: Person\nlog_level: warn\n"
	if err := os.WriteFile(filepath.Join(env.Config, "config.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return env
}

// WriteFile writes content to name under the env's temp dir and returns the
// path.
func (e *TestEnv) WriteFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.TempDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// CmdResult holds the result of a jetstream command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *TestEnv) command(args ...string) *exec.Cmd {
	allArgs := append([]string{"--config-dir", e.Config, "--data-dir", e.DataDir}, args...)
	cmd := exec.Command(jetstreamBin, allArgs...)
	cmd.Env = cleanEnv()
	return cmd
}

// Run executes jetstream with the given arguments.
func (e *TestEnv) Run(args ...string) CmdResult {
	e.t.Helper()

	cmd := e.command(args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			e.t.Fatalf("failed to run jetstream: %v", err)
		}
	}
	return CmdResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
}

// MustRun executes jetstream and fails the test on a non-zero exit.
func (e *TestEnv) MustRun(args ...string) CmdResult {
	e.t.Helper()
	result := e.Run(args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("jetstream %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// cleanEnv drops JETSTREAM_* variables from the inherited environment.
func cleanEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		if len(kv) >= 10 && kv[:10] == "JETSTREAM_" {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// freeAddr returns a loopback address with a port that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, jsonStr string) T {
	t.Helper()
	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", jsonStr, err)
	}
	return result
}

// ReadJSONLFile reads a JSONL file (one JSON object per line).
func ReadJSONLFile[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open JSONL file %s: %v", path, err)
	}
	defer f.Close()

	var results []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("failed to parse JSONL line in %s: %v", path, err)
		}
		results = append(results, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to scan JSONL file %s: %v", path, err)
	}
	return results
}

// Fragment is a sync fragment as it appears on the wire and in snapshots.
type Fragment struct {
	Type       string         `json:"type"`
	UUID       string         `json:"uuid"`
	Cls        string         `json:"cls,omitempty"`
	Parent     string         `json:"parent,omitempty"`
	KeyPath    string         `json:"keyPath,omitempty"`
	Properties map[string]any `json:"properties"`
}
