package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGeneratesFreshIdentityWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	id := Load(path)
	if id.ProtocolID != CurrentProtocolID {
		t.Fatalf("expected protocol id %d, got %d", CurrentProtocolID, id.ProtocolID)
	}
	if id.Hostname == "" {
		t.Fatal("expected a non-empty hostname")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected identity to be persisted: %v", err)
	}
}

func TestLoadIsStableAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	first := Load(path)
	second := Load(path)
	if first != second {
		t.Fatalf("expected identity to be stable across loads, got %+v then %+v", first, second)
	}
}

func TestLoadReplacesOnProtocolMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	stale := Identity{Hostname: "1234.client.alvr", ProtocolID: CurrentProtocolID - 1}
	data, _ := json.Marshal(stale)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	got := Load(path)
	if got.ProtocolID != CurrentProtocolID {
		t.Fatalf("expected protocol id to be replaced with %d, got %d", CurrentProtocolID, got.ProtocolID)
	}
	if got.Hostname == stale.Hostname {
		t.Fatal("expected a freshly generated hostname, not the stale one")
	}
}

func TestLoadReplacesOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	got := Load(path)
	if got.Hostname == "" || got.ProtocolID != CurrentProtocolID {
		t.Fatalf("expected a fresh identity for corrupt file, got %+v", got)
	}
}

func TestNewIdentityHostnameIsFourDigitsAndSuffixed(t *testing.T) {
	id := NewIdentity()
	if len(id.Hostname) != len("0000.client.alvr") {
		t.Fatalf("unexpected hostname length: %q", id.Hostname)
	}
	if id.Hostname[4:] != ".client.alvr" {
		t.Fatalf("expected .client.alvr suffix, got %q", id.Hostname)
	}
}
