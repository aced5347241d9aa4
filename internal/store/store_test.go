package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPasswordRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadPassword(ctx, 10001); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}

	digest := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := s.SavePassword(ctx, 10001, digest); err != nil {
		t.Fatalf("SavePassword: %v", err)
	}
	got, err := s.LoadPassword(ctx, 10001)
	if err != nil {
		t.Fatalf("LoadPassword: %v", err)
	}
	if string(got) != string(digest) {
		t.Fatalf("digest = %x, want %x", got, digest)
	}

	// Upsert replaces.
	if err := s.SavePassword(ctx, 10001, []byte{0x01}); err != nil {
		t.Fatalf("SavePassword: %v", err)
	}
	got, err = s.LoadPassword(ctx, 10001)
	if err != nil {
		t.Fatalf("LoadPassword: %v", err)
	}
	if len(got) != 1 || got[0] != 0x01 {
		t.Fatalf("digest = %x after upsert", got)
	}
}

func TestDeviceStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Device(ctx, 10001)
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if first == "" {
		t.Fatal("device id empty")
	}
	second, err := s.Device(ctx, 10001)
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if first != second {
		t.Fatalf("device id changed: %q vs %q", first, second)
	}

	other, err := s.Device(ctx, 20002)
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if other == first {
		t.Fatal("accounts must not share a device id")
	}
}

func TestSchemaLedger(t *testing.T) {
	s := openTestStore(t)

	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("version = %d, want %d", version, schemaVersion)
	}
}
