package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"argon/internal/domain"
	"argon/internal/message"
)

func TestBuildChainFromArgs(t *testing.T) {
	chain, err := buildChain("", []string{"hello", "world"})
	if err != nil {
		t.Fatalf("buildChain: %v", err)
	}
	if got := chain.Display(); got != "hello world" {
		t.Errorf("display = %q", got)
	}
	if _, err := buildChain("", nil); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestBuildChainFromTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greet.yaml")
	tmpl := "- \"hi \"\n- type: At\n  target: 10001\n  display: bob\n- type: Face\n  faceId: 14\n"
	if err := os.WriteFile(path, []byte(tmpl), 0o644); err != nil {
		t.Fatal(err)
	}
	chain, err := buildChain(path, []string{"ignored"})
	if err != nil {
		t.Fatalf("buildChain: %v", err)
	}
	if chain.Len() != 3 {
		t.Fatalf("len = %d, want 3", chain.Len())
	}
	if !message.Has[message.At](chain) {
		t.Error("template should contain an At")
	}
}

func TestRenderCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.yaml")
	if err := os.WriteFile(path, []byte("- text\n- type: AtAll\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := renderCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.SplitN(out.String(), "\n", 2)
	if lines[0] != "text[AtAll]" {
		t.Errorf("display line = %q", lines[0])
	}
	var wire []map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &wire); err != nil {
		t.Fatalf("wire form: %v\n%s", err, lines[1])
	}
	if len(wire) != 2 || wire[1]["type"] != "AtAll" {
		t.Errorf("wire = %v", wire)
	}
}

type readyAdapter struct {
	domain.Adapter
	ready atomic.Bool
}

func (r *readyAdapter) Connected() bool { return r.ready.Load() }

func TestWaitReady(t *testing.T) {
	ad := &readyAdapter{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		ad.ready.Store(true)
	}()
	if err := waitReady(context.Background(), ad, 2*time.Second); err != nil {
		t.Fatalf("waitReady: %v", err)
	}

	err := waitReady(context.Background(), &readyAdapter{}, 30*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
