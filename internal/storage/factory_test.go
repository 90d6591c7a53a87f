package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestNewBackendFromConfigLocal(t *testing.T) {
	raw, err := ConfigForDest("local", filepath.Join(t.TempDir(), "mirror"))
	if err != nil {
		t.Fatalf("ConfigForDest: %v", err)
	}
	b, err := NewBackendFromConfig(context.Background(), "local", raw)
	if err != nil {
		t.Fatalf("NewBackendFromConfig: %v", err)
	}
	defer b.Close()
	if b.Type() != "local" {
		t.Errorf("Type() = %q, want local", b.Type())
	}
}

func TestConfigForDestS3(t *testing.T) {
	raw, err := ConfigForDest("s3", "s3://bucket/some/prefix")
	if err != nil {
		t.Fatalf("ConfigForDest: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["bucket"] != "bucket" || got["prefix"] != "some/prefix" {
		t.Errorf("config = %v", got)
	}
}

func TestUnknownBackend(t *testing.T) {
	if _, err := NewBackendFromConfig(context.Background(), "smb", nil); err == nil {
		t.Error("NewBackendFromConfig(smb) error = nil")
	}
	if _, err := ConfigForDest("smb", "x"); err == nil {
		t.Error("ConfigForDest(smb) error = nil")
	}
}
