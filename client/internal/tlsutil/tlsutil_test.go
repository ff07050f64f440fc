package tlsutil

import (
	"testing"
	"time"
)

func TestGenerateIncludesHostnameSAN(t *testing.T) {
	cfg, fingerprint, err := Generate(time.Hour, "0001.client.alvr")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected exactly one certificate, got %d", len(cfg.Certificates))
	}
	leaf := cfg.Certificates[0].Leaf
	if leaf.Subject.CommonName != "0001.client.alvr" {
		t.Fatalf("expected CN=0001.client.alvr, got %q", leaf.Subject.CommonName)
	}
	var sawHostname, sawLocalhost bool
	for _, n := range leaf.DNSNames {
		if n == "0001.client.alvr" {
			sawHostname = true
		}
		if n == "localhost" {
			sawLocalhost = true
		}
	}
	if !sawHostname || !sawLocalhost {
		t.Fatalf("expected DNS SANs for hostname and localhost, got %v", leaf.DNSNames)
	}
	if len(fingerprint) != 64 {
		t.Fatalf("expected 64-char hex fingerprint, got %d chars", len(fingerprint))
	}
}

func TestGenerateEmptyHostnameFallsBackToDefaultCN(t *testing.T) {
	cfg, _, err := Generate(time.Hour, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if cfg.Certificates[0].Leaf.Subject.CommonName != "alvr-client" {
		t.Fatalf("expected default CN, got %q", cfg.Certificates[0].Leaf.Subject.CommonName)
	}
}
