package cmdexec

import (
	"context"
	"errors"
	"testing"
)

func TestOSRunner_CaptureAndCheck(t *testing.T) {
	r := NewOSRunner()
	out, err := r.Run(context.Background(), []string{"echo", "hello"}, Options{Capture: true, Check: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello\n" {
		t.Fatalf("stdout = %q, want %q", out, "hello\n")
	}
}

func TestOSRunner_NonZeroExit(t *testing.T) {
	r := NewOSRunner()
	_, err := r.Run(context.Background(), []string{"false"}, Options{Check: true})
	if err == nil {
		t.Fatal("expected error from non-zero exit")
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if ce.Exit != 1 {
		t.Fatalf("exit = %d, want 1", ce.Exit)
	}
}

func TestRunJSON_Decodes(t *testing.T) {
	f := NewFakeRunner()
	f.SetJSON([]string{"ip", "-j", "-d", "link", "show"}, `[{"ifname":"lo"}]`)

	tree, err := RunJSON(context.Background(), f, []string{"ip", "-j", "-d", "link", "show"})
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if len(tree) != 1 {
		t.Fatalf("len(tree) = %d, want 1", len(tree))
	}
}

func TestRunJSON_MalformedOutput(t *testing.T) {
	f := NewFakeRunner()
	f.SetJSON([]string{"ip", "-j", "link", "show"}, `not json`)

	_, err := RunJSON(context.Background(), f, []string{"ip", "-j", "link", "show"})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}
