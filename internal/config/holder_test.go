// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHolderReloadSwapsOnSuccess(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("kiosk:\n  id: v1\n"), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	loader := NewLoader(configPath, "test-version")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	h := NewHolder(initial, loader)
	if h.Get().Kiosk.ID != "v1" {
		t.Fatalf("expected initial Kiosk.ID=v1, got %s", h.Get().Kiosk.ID)
	}

	if err := os.WriteFile(configPath, []byte("kiosk:\n  id: v2\n"), 0600); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if h.Get().Kiosk.ID != "v2" {
		t.Fatalf("expected reloaded Kiosk.ID=v2, got %s", h.Get().Kiosk.ID)
	}
	if h.Current().Epoch != 1 {
		t.Fatalf("expected epoch 1 after one reload, got %d", h.Current().Epoch)
	}
}

func TestHolderReloadKeepsPreviousOnValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("kiosk:\n  id: v1\n"), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	loader := NewLoader(configPath, "test-version")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	h := NewHolder(initial, loader)

	if err := os.WriteFile(configPath, []byte("kiosk:\n  id: v2\n  assignment_mode: coin_flip\n"), 0600); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}
	if err := h.Reload(); err == nil {
		t.Fatalf("expected Reload() to fail validation")
	}
	if h.Get().Kiosk.ID != "v1" {
		t.Fatalf("expected previous config to remain after failed reload, got Kiosk.ID=%s", h.Get().Kiosk.ID)
	}
	if h.Current().Epoch != 0 {
		t.Fatalf("expected epoch to stay at 0 after failed reload, got %d", h.Current().Epoch)
	}
}

func TestHolderNotifiesSubscribers(t *testing.T) {
	loader := NewLoader("", "test-version")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	h := NewHolder(initial, loader)

	ch := make(chan Config, 1)
	h.Subscribe(ch)

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("expected subscriber to receive the reloaded config")
	}
}
