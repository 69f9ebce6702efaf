package main

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerateTLSConfigReturnsValidCert(t *testing.T) {
	tlsCfg, fingerprint, err := generateTLSConfig(2*time.Hour, "")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}
	if len(fingerprint) != 64 {
		t.Errorf("fingerprint length: got %d, want 64", len(fingerprint))
	}
	if len(tlsCfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(tlsCfg.Certificates))
	}

	leaf := tlsCfg.Certificates[0].Leaf
	if leaf.Subject.CommonName != "rdcastd" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "rdcastd")
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		t.Errorf("cert not valid at current time: NotBefore=%v NotAfter=%v", leaf.NotBefore, leaf.NotAfter)
	}
}

func TestGenerateTLSConfigUsesHostnameAsCN(t *testing.T) {
	tlsCfg, _, err := generateTLSConfig(time.Hour, "cast.example.com")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}
	leaf := tlsCfg.Certificates[0].Leaf
	if leaf.Subject.CommonName != "cast.example.com" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "cast.example.com")
	}
	found := false
	for _, name := range leaf.DNSNames {
		if name == "localhost" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected localhost to remain in DNS names, got %v", leaf.DNSNames)
	}
}

func TestGenerateTLSConfigUniqueCerts(t *testing.T) {
	_, fp1, err := generateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}
	_, fp2, err := generateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}
	if fp1 == fp2 {
		t.Error("two calls should produce different certificates")
	}
}

func TestGenerateTLSConfigSelfSigned(t *testing.T) {
	tlsCfg, _, err := generateTLSConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}
	leaf := tlsCfg.Certificates[0].Leaf
	if leaf.Issuer.CommonName != leaf.Subject.CommonName {
		t.Errorf("expected self-signed cert: issuer=%q subject=%q", leaf.Issuer.CommonName, leaf.Subject.CommonName)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: pool}); err != nil {
		t.Errorf("self-verification failed: %v", err)
	}
}
