package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metisos/arccore/internal/config"
	"github.com/metisos/arccore/internal/pipeline"
)

func newChatCore(t *testing.T) *pipeline.Core {
	t.Helper()
	cfg := config.Default()
	cfg.Memory.DBPath = filepath.Join(t.TempDir(), "memory.db")
	cfg.Provider.APIKey = "" // offline echo generator

	core, err := pipeline.NewCore(cfg)
	if err != nil {
		t.Fatalf("NewCore error: %v", err)
	}
	t.Cleanup(func() { core.Close() })
	return core
}

func TestRunChatSingleMessage(t *testing.T) {
	var stdout bytes.Buffer

	oldFlag := messageFlag
	messageFlag = "hello there"
	defer func() { messageFlag = oldFlag }()

	err := runChatWithOptions(ChatOptions{
		Core:   newChatCore(t),
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	if !strings.Contains(stdout.String(), "Noted: hello there") {
		t.Errorf("expected echoed response, got: %s", stdout.String())
	}
}

func TestRunChatREPLMode(t *testing.T) {
	stdin := strings.NewReader("\n\nwhat is gravity\nquit\n")
	var stdout, stderr bytes.Buffer

	oldFlag := messageFlag
	messageFlag = ""
	defer func() { messageFlag = oldFlag }()

	err := runChatWithOptions(ChatOptions{
		Core:   newChatCore(t),
		Stdin:  stdin,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	if !strings.Contains(stdout.String(), "arccore chat") {
		t.Errorf("expected REPL welcome message, got: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "Noted: what is gravity") {
		t.Errorf("expected echoed response, got: %s", stdout.String())
	}
}

func TestRunChatREPLTeachCommand(t *testing.T) {
	stdin := strings.NewReader("teach what orbits earth | the moon\nstats\nquit\n")
	var stdout, stderr bytes.Buffer

	oldFlag := messageFlag
	messageFlag = ""
	defer func() { messageFlag = oldFlag }()

	err := runChatWithOptions(ChatOptions{
		Core:   newChatCore(t),
		Stdin:  stdin,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "learned") {
		t.Errorf("expected teach confirmation, got: %s", out)
	}
	if !strings.Contains(out, "Packs taught: 1") {
		t.Errorf("expected stats to reflect taught pack, got: %s", out)
	}
	if stderr.Len() != 0 {
		t.Errorf("unexpected stderr: %s", stderr.String())
	}
}

func TestRunChatREPLTeachUsage(t *testing.T) {
	stdin := strings.NewReader("teach missing separator\nquit\n")
	var stdout, stderr bytes.Buffer

	oldFlag := messageFlag
	messageFlag = ""
	defer func() { messageFlag = oldFlag }()

	err := runChatWithOptions(ChatOptions{
		Core:   newChatCore(t),
		Stdin:  stdin,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatalf("runChatWithOptions error: %v", err)
	}
	if !strings.Contains(stderr.String(), "usage: teach") {
		t.Errorf("expected usage hint on stderr, got: %s", stderr.String())
	}
}
