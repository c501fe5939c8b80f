package config

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func randomKey(t *testing.T) string {
	t.Helper()
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(b[:])
}

func TestParseValid(t *testing.T) {
	priv := randomKey(t)
	pub := randomKey(t)
	doc := strings.Join([]string{
		"privateKey: " + priv,
		"peers:",
		"  - name: alice",
		"    publicKey: " + pub,
		"    allowedIPs: [\"10.0.0.2/32\"]",
	}, "\n")

	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].PublicKey != pub {
		t.Fatalf("peer not parsed correctly: %+v", cfg.Peers)
	}
}

func TestParseRejectsBadKeySize(t *testing.T) {
	doc := "privateKey: " + base64.StdEncoding.EncodeToString([]byte("too short")) + "\npeers: []\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected an error for an undersized private key")
	}
}

func TestParseRejectsBadAllowedIP(t *testing.T) {
	priv := randomKey(t)
	pub := randomKey(t)
	doc := strings.Join([]string{
		"privateKey: " + priv,
		"peers:",
		"  - name: alice",
		"    publicKey: " + pub,
		"    allowedIPs: [\"not-a-cidr\"]",
	}, "\n")

	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected an error for an unparseable allowed IP")
	}
}

func TestParseRejectsDuplicatePeers(t *testing.T) {
	priv := randomKey(t)
	pub := randomKey(t)
	doc := strings.Join([]string{
		"privateKey: " + priv,
		"peers:",
		"  - publicKey: " + pub,
		"  - publicKey: " + pub,
	}, "\n")

	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected an error for duplicate peer public keys")
	}
}
