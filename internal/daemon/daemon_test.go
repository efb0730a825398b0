package daemon_test

import (
	"context"
	"testing"

	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/testsupport"
)

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	if d.APIAddr() == "" {
		t.Fatal("api address empty after start")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("second Start should fail while running")
	}

	d.Stop()
	// Stopping twice is safe.
	d.Stop()
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}
}
