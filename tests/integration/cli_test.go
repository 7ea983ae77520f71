package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		buildErr = err
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "jetstream-test-*")
	if err != nil {
		buildErr = err
		os.Exit(1)
	}
	jetstreamBin = filepath.Join(tmpDir, "jetstream")

	cmd := exec.Command("go", "build", "-o", jetstreamBin, "./cmd/jetstream")
	cmd.Dir = projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		buildErr = &BuildError{Err: err, Output: string(output)}
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

const (
	rootID = "00000000-0000-4000-8000-000000000001"
	annID  = "00000000-0000-4000-8000-000000000002"
	rexID  = "00000000-0000-4000-8000-000000000003"
)

func TestVersion(t *testing.T) {
	env := NewTestEnv(t)
	result := env.MustRun("version")
	if !strings.HasPrefix(result.Stdout, "jetstream v") {
		t.Errorf("unexpected version output %q", result.Stdout)
	}
}

func TestInitCreatesDatabase(t *testing.T) {
	env := NewTestEnv(t)

	result := env.MustRun("init")
	if !strings.Contains(result.Stdout, "jetstream initialized") {
		t.Errorf("unexpected init output %q", result.Stdout)
	}
	if _, err := os.Stat(filepath.Join(env.DataDir, "jetstream.db")); err != nil {
		t.Fatalf("database not created: %v", err)
	}

	type initResult struct {
		Created bool `json:"created"`
	}
	second := ParseJSON[initResult](t, env.MustRun("--json", "init").Stdout)
	if second.Created {
		t.Error("second init rewrote config.yaml")
	}
}

func TestSchemaCheck(t *testing.T) {
	env := NewTestEnv(t)

	result := env.MustRun("schema", "check", env.Schema)
	for _, want := range []string{
		"Person {name:String, age:Number, children:[Person], pet:Animal}",
		"Dog extends Animal {name:String, good:Boolean}",
	} {
		if !strings.Contains(result.Stdout, want) {
			t.Errorf("schema check output missing %q:\n%s", want, result.Stdout)
		}
	}

	bad := env.WriteFile("bad.yaml", "types:\n  - name: A\n    extends: A\n")
	if got := env.Run("schema", "check", bad).ExitCode; got != 1 {
		t.Errorf("exit code for a cyclic schema = %d, want 1", got)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	env := NewTestEnv(t)
	snapshot := env.WriteFile("graph.jsonl",
		`{"type":"root","uuid":"`+rootID+`","cls":"Person","properties":{"name":"Root"}}`+"\n")
	batch := env.WriteFile("batch.json", `[
		{"type":"add","uuid":"`+annID+`","cls":"Person","parent":"`+rootID+`","keyPath":"children","properties":{"name":"Ann","age":31}},
		{"type":"add","uuid":"`+rexID+`","cls":"Dog","parent":"`+rootID+`","keyPath":"pet","properties":{"name":"Rex","good":true}},
		{"type":"change","uuid":"`+annID+`","properties":{"name":"Annie"}}
	]`)

	result := env.MustRun("apply", "--write", snapshot, batch)
	if !strings.Contains(result.Stdout, "applied 3, rejected 0") {
		t.Errorf("unexpected apply output:\n%s", result.Stdout)
	}

	frags := ReadJSONLFile[Fragment](t, snapshot)
	if len(frags) != 3 {
		t.Fatalf("snapshot has %d records, want 3", len(frags))
	}
	if frags[0].Type != "root" || frags[0].UUID != rootID {
		t.Errorf("first record %+v is not the root", frags[0])
	}
	ann := frags[1]
	if ann.UUID != annID || ann.Properties["name"] != "Annie" || ann.Properties["age"] != 31.0 {
		t.Errorf("ann record = %+v", ann)
	}
	if frags[2].Cls != "Dog" || frags[2].KeyPath != "pet" {
		t.Errorf("pet record = %+v", frags[2])
	}

	again := env.Run("apply", snapshot, batch)
	if again.ExitCode != 1 {
		t.Fatalf("re-adding existing objects exit code = %d, want 1", again.ExitCode)
	}
	if strings.Count(again.Stdout, "already-exists") != 2 {
		t.Errorf("expected duplicate add rejections:\n%s", again.Stdout)
	}
}

func TestApplyWithoutSchema(t *testing.T) {
	env := NewTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.Config, "config.yaml"), []byte("backend: memory\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	snapshot := env.WriteFile("graph.jsonl", `{"type":"root","uuid":"`+rootID+`","cls":"Person","properties":{}}`+"\n")
	batch := env.WriteFile("batch.json", `[]`)

	result := env.Run("apply", snapshot, batch)
	if result.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "schema") {
		t.Errorf("stderr does not mention the schema: %q", result.Stderr)
	}
}
