package spool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/norm/timeline-daemon/internal/timeline"
)

func writeManifest(t *testing.T, dir, name string, m Manifest) string {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func validManifest() Manifest {
	return Manifest{
		BatchID: "batch-1",
		StartTs: 1000,
		EndTs:   1900,
		Screenshots: []timeline.Screenshot{
			{Path: "/tmp/frame-001.png", CapturedTs: 1005},
		},
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "b1.json", validManifest())

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.BatchID != "batch-1" || m.Path != path {
		t.Errorf("manifest = %+v", m)
	}
}

func TestLoadManifestFillsBatchID(t *testing.T) {
	dir := t.TempDir()
	m := validManifest()
	m.BatchID = ""
	path := writeManifest(t, dir, "noid.json", m)

	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got.BatchID == "" {
		t.Error("batch id not filled in")
	}
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	inverted := validManifest()
	inverted.EndTs = inverted.StartTs - 1
	empty := validManifest()
	empty.Screenshots = nil

	cases := map[string]string{
		"inverted.json": "",
		"empty.json":    "",
		"garbage.json":  "not json at all",
	}
	writeManifest(t, dir, "inverted.json", inverted)
	writeManifest(t, dir, "empty.json", empty)
	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte(cases["garbage.json"]), 0o644); err != nil {
		t.Fatal(err)
	}

	for name := range cases {
		if _, err := LoadManifest(filepath.Join(dir, name)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func waitManifest(t *testing.T, events <-chan *Manifest) *Manifest {
	t.Helper()
	select {
	case m := <-events:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for manifest")
		return nil
	}
}

func TestWatcherEmitsExistingAndNew(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "existing.json", validManifest())

	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	first := waitManifest(t, w.Events())
	if first.BatchID != "batch-1" {
		t.Errorf("existing manifest batch = %q", first.BatchID)
	}

	fresh := validManifest()
	fresh.BatchID = "batch-2"
	writeManifest(t, dir, "fresh.json", fresh)

	second := waitManifest(t, w.Events())
	if second.BatchID != "batch-2" {
		t.Errorf("new manifest batch = %q", second.BatchID)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestWatcherSkipsNonManifestFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "real.json", validManifest())

	m := waitManifest(t, w.Events())
	if m.BatchID != "batch-1" {
		t.Errorf("batch = %q", m.BatchID)
	}
	select {
	case extra := <-w.Events():
		t.Errorf("unexpected extra manifest: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMarkProcessedAndFailed(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	ok := writeManifest(t, dir, "ok.json", validManifest())
	bad := writeManifest(t, dir, "bad.json", validManifest())

	mOK, err := LoadManifest(ok)
	if err != nil {
		t.Fatal(err)
	}
	mBad, err := LoadManifest(bad)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.MarkProcessed(mOK); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := w.MarkFailed(mBad); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "processed", "ok.json")); err != nil {
		t.Errorf("processed manifest: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "bad.json")); err != nil {
		t.Errorf("failed manifest: %v", err)
	}
	if _, err := os.Stat(ok); !os.IsNotExist(err) {
		t.Error("original manifest still in spool root")
	}
}
