package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestReloaderCallsReloadAfterWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeTempFile(t, t.TempDir(), "roles.yaml", rolesYAML)
	reloaded := make(chan struct{}, 4)
	r, err := NewReloader([]string{path, "", filepath.Join(t.TempDir(), "missing.yaml")}, func(context.Context) error {
		reloaded <- struct{}{}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	r.debounce = 20 * time.Millisecond
	if len(r.Paths()) != 1 {
		t.Fatalf("expected only the existing file to be watched, got %v", r.Paths())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := os.WriteFile(path, []byte(rolesYAML+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestReloaderSurvivesReloadErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeTempFile(t, t.TempDir(), "agents.yaml", agentsYAML)
	var calls atomic.Int32
	r, err := NewReloader([]string{path}, func(context.Context) error {
		calls.Add(1)
		return errors.New("parse failed")
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte(agentsYAML), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Errorf("expected repeated reloads after failures, got %d", calls.Load())
	}

	cancel()
	<-done
}

func TestReloaderStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, err := NewReloader(nil, func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}
