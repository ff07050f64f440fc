package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "alvr.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var version int
	if err := st.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
}

func TestSettingGetSetRoundTrip(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, ok, err := st.GetSetting(SessionConfigKey); err != nil || ok {
		t.Fatalf("expected missing setting, got ok=%v err=%v", ok, err)
	}

	if err := st.SetSetting(SessionConfigKey, `{"video":{}}`); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	val, ok, err := st.GetSetting(SessionConfigKey)
	if err != nil || !ok {
		t.Fatalf("expected setting present, got ok=%v err=%v", ok, err)
	}
	if val != `{"video":{}}` {
		t.Fatalf("unexpected setting value: %s", val)
	}

	// Overwrite.
	if err := st.SetSetting(SessionConfigKey, `{"video":{"codec":"h265"}}`); err != nil {
		t.Fatalf("overwrite setting: %v", err)
	}
	val, _, _ = st.GetSetting(SessionConfigKey)
	if val != `{"video":{"codec":"h265"}}` {
		t.Fatalf("expected overwritten value, got %s", val)
	}
}

func TestUpsertClientSeenNeverDemotesTrusted(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.UpsertClientSeen("0001.client.alvr", "Quest 3"); err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	if err := st.SetClientTrusted("0001.client.alvr", true); err != nil {
		t.Fatalf("set trusted: %v", err)
	}

	// A later sighting with a new display name must not clear trusted.
	if err := st.UpsertClientSeen("0001.client.alvr", "Quest 3 Renamed"); err != nil {
		t.Fatalf("upsert client again: %v", err)
	}

	got, err := st.GetClient("0001.client.alvr")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if !got.Trusted {
		t.Fatalf("expected client to remain trusted")
	}
	if got.DisplayName != "Quest 3 Renamed" {
		t.Fatalf("expected display name updated, got %q", got.DisplayName)
	}
}

func TestSetClientTrustedUnknownHostname(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	err = st.SetClientTrusted("9999.client.alvr", true)
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestManualIPsAndAllManualIPs(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.UpsertClientSeen("0001.client.alvr", "Quest 3"); err != nil {
		t.Fatalf("upsert client: %v", err)
	}
	if err := st.AddManualIP("0001.client.alvr", "192.168.1.50"); err != nil {
		t.Fatalf("add manual ip: %v", err)
	}
	// Duplicate insert must be a no-op, not an error.
	if err := st.AddManualIP("0001.client.alvr", "192.168.1.50"); err != nil {
		t.Fatalf("add duplicate manual ip: %v", err)
	}
	if err := st.AddManualIP("0001.client.alvr", "10.0.0.9"); err != nil {
		t.Fatalf("add second manual ip: %v", err)
	}

	got, err := st.GetClient("0001.client.alvr")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if len(got.ManualIPs) != 2 {
		t.Fatalf("expected 2 manual ips, got %v", got.ManualIPs)
	}

	all, err := st.AllManualIPs()
	if err != nil {
		t.Fatalf("all manual ips: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 manual ips across registry, got %v", all)
	}
}

func TestAllClientsOrdersByHostname(t *testing.T) {
	t.Parallel()

	st, err := Open(filepath.Join(t.TempDir(), "alvr.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	for _, h := range []string{"0003.client.alvr", "0001.client.alvr", "0002.client.alvr"} {
		if err := st.UpsertClientSeen(h, ""); err != nil {
			t.Fatalf("upsert client %s: %v", h, err)
		}
	}

	all, err := st.AllClients()
	if err != nil {
		t.Fatalf("all clients: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 clients, got %d", len(all))
	}
	want := []string{"0001.client.alvr", "0002.client.alvr", "0003.client.alvr"}
	for i, w := range want {
		if all[i].Hostname != w {
			t.Fatalf("expected ordered hostname %s at index %d, got %s", w, i, all[i].Hostname)
		}
	}
}
