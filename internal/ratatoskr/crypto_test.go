package ratatoskr

import (
	"testing"
	"time"
)

func TestShouldRotate_NoCurrentKeyIsDueImmediately(t *testing.T) {
	store, err := NewKeyStore(t.TempDir(), KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	if !store.ShouldRotate("missing", time.Hour) {
		t.Fatalf("expected a never-generated key to be due for rotation")
	}
}

func TestShouldRotate_FreshlySavedKeyIsNotDue(t *testing.T) {
	store, err := NewKeyStore(t.TempDir(), KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := store.Save("authority", kp, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if store.ShouldRotate("authority", time.Hour) {
		t.Fatalf("freshly saved key should not be due for rotation under a 1h interval")
	}
}

// TestShouldRotate_PersistsAcrossRestart is the regression test for the
// rotation-timestamp persistence bug: a KeyStore constructed fresh (as
// happens on every process restart) must still know when a key last
// rotated by reading the .rotated_at.{id} file, not just its empty
// in-memory map.
func TestShouldRotate_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	store1, err := NewKeyStore(dir, KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := store1.Save("authority", kp, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store2, err := NewKeyStore(dir, KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore (restart): %v", err)
	}

	if store2.ShouldRotate("authority", time.Hour) {
		t.Fatalf("restarted KeyStore incorrectly reports an under-rotation-interval key as due")
	}
	if !store2.ShouldRotate("authority", 0) {
		t.Fatalf("restarted KeyStore should report rotation due once the interval has fully elapsed")
	}
}

func TestRotate_StampsRotationTimestampVisibleAfterRestart(t *testing.T) {
	dir := t.TempDir()

	store1, err := NewKeyStore(dir, KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := store1.Save("authority", kp, "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store1.Rotate("authority", "pw", time.Hour); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	store2, err := NewKeyStore(dir, KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore (restart): %v", err)
	}
	if store2.ShouldRotate("authority", time.Hour) {
		t.Fatalf("restarted KeyStore should see the rotation Rotate() just performed")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewKeyStore(t.TempDir(), KDFSHA256)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := store.Save("device-1", kp, "correct horse"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("device-1", "correct horse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(loaded.Public) != string(kp.Public) {
		t.Fatalf("loaded public key does not match saved one")
	}

	if _, err := store.Load("device-1", "wrong passphrase"); err == nil {
		t.Fatalf("expected Load to fail decryption under the wrong passphrase")
	}
}
