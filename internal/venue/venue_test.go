package venue

import "testing"

func TestDeriveAddress(t *testing.T) {
	addr, err := DeriveAddress("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if len(addr) != 42 || addr[:2] != "0x" {
		t.Fatalf("expected a 0x-prefixed 20-byte address, got %q", addr)
	}
}

func TestDeriveAddressInvalidKey(t *testing.T) {
	if _, err := DeriveAddress("not-hex"); err == nil {
		t.Fatal("expected error for invalid private key")
	}
}
