// Package persist manages the client's on-disk identity: the randomly
// assigned {4-digit}.client.alvr hostname and the protocol version it was
// last paired under. Grounded on client/internal/config.Config's
// Load/Save/Default tolerant-JSON pattern, but replaces that pattern's
// "missing/corrupt -> defaults" rule with original_source's exact
// storage.rs rule: a protocol id mismatch discards the whole file and
// starts over with a freshly generated hostname, rather than merging.
package persist

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// CurrentProtocolID is bumped whenever the wire protocol changes in a way
// that makes a previously-generated identity unsafe to reuse.
const CurrentProtocolID = 1

// Identity is the persisted {hostname, protocol_id} pair original_source's
// storage.rs calls out explicitly.
type Identity struct {
	Hostname   string `json:"hostname"`
	ProtocolID int    `json:"protocol_id"`
}

// Path returns the absolute path to the identity file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "alvr-client", "identity.json"), nil
}

// NewIdentity generates a fresh identity with a random 4-digit hostname
// ("{:04}.client.alvr", zero-padded), matching storage.rs.
func NewIdentity() Identity {
	return Identity{
		Hostname:   fmt.Sprintf("%04d.client.alvr", rand.Intn(10000)),
		ProtocolID: CurrentProtocolID,
	}
}

// Load reads the identity file at path. If the file is missing, unreadable,
// corrupt, or was written by a different ProtocolID, a fresh Identity is
// generated and persisted in its place — never a partial merge of the old
// file with new defaults, per storage.rs.
func Load(path string) Identity {
	data, err := os.ReadFile(path)
	if err != nil {
		return generateAndSave(path)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return generateAndSave(path)
	}
	if id.ProtocolID != CurrentProtocolID || id.Hostname == "" {
		return generateAndSave(path)
	}
	return id
}

func generateAndSave(path string) Identity {
	id := NewIdentity()
	if err := Save(path, id); err != nil {
		// The in-memory identity is still usable even if persisting it
		// failed (e.g. read-only filesystem); the next run will just
		// regenerate again.
		return id
	}
	return id
}

// Save writes id to path, creating the containing directory if needed.
func Save(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
