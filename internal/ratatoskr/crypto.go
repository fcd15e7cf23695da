// Package ratatoskr implements the signed, replay-resistant request/response
// protocol that all inter-device traffic traverses: Ed25519 keypair
// lifecycle and passphrase-at-rest storage (this file), and the envelope
// schema, signing, and validation (envelope.go, validator.go, nonce.go).
package ratatoskr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// KDF selects the passphrase-to-AES-key derivation used when encrypting a
// private key at rest. sha256KDF is the original, weaker derivation and
// remains the only one that can read artifacts written before this module
// offered a choice; argon2KDF is offered for newly generated keys.
type KDF byte

const (
	// KDFSHA256 derives the AES key as SHA-256(passphrase). Documented by
	// spec.md as a deliberate simplification, weak against offline brute
	// force; kept for backward compatibility with existing artifacts.
	KDFSHA256 KDF = 0x01
	// KDFArgon2id derives the AES key with Argon2id, a memory-hard KDF.
	// Selectable via EDDA_PASSPHRASE_KDF=argon2id for newly generated keys.
	KDFArgon2id KDF = 0x02
)

const (
	nonceSize      = 12
	aesKeySize     = 32
	argon2SaltSize = 16
	argon2Time     = 1
	argon2Memory   = 64 * 1024
	argon2Threads  = 4
)

func deriveKey(passphrase string, kdf KDF, salt []byte) []byte {
	switch kdf {
	case KDFArgon2id:
		return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, aesKeySize)
	default:
		sum := sha256.Sum256([]byte(passphrase))
		return sum[:]
	}
}

// KeyStore manages Ed25519 keypair artifacts on disk under baseDir, in the
// layout spec.md §3/§6 describes: "{base}/{id}.pub" unencrypted, and
// "{base}/{id}.key" as nonce(12B) || AES-256-GCM ciphertext, preceded here by
// a one-byte KDF version tag so SHA-256- and Argon2id-derived keys can
// coexist on the same installation.
type KeyStore struct {
	baseDir string
	kdf     KDF

	mu          sync.RWMutex
	rotatedAt   map[string]time.Time
	deprecated  map[string]string // id -> deprecated id
	deprecateAt map[string]time.Time
}

// NewKeyStore creates a KeyStore rooted at baseDir, creating it if absent.
// defaultKDF governs newly generated keys only; existing artifacts are read
// using whatever KDF tag their file carries.
func NewKeyStore(baseDir string, defaultKDF KDF) (*KeyStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key store directory: %w", err)
	}
	return &KeyStore{
		baseDir:     baseDir,
		kdf:         defaultKDF,
		rotatedAt:   make(map[string]time.Time),
		deprecated:  make(map[string]string),
		deprecateAt: make(map[string]time.Time),
	}, nil
}

// Keypair is an in-memory Ed25519 keypair, never persisted directly; callers
// obtain one from Generate or Load.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a new random Ed25519 keypair. It does not persist
// anything; call Save to write it to disk.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

func (s *KeyStore) pubPath(id string) string { return filepath.Join(s.baseDir, id+".pub") }
func (s *KeyStore) keyPath(id string) string { return filepath.Join(s.baseDir, id+".key") }

// rotatedAtPath is the persisted rotation-timestamp file spec.md §6 names
// among the store's on-disk artifacts, so ShouldRotate survives a restart.
func (s *KeyStore) rotatedAtPath(id string) string {
	return filepath.Join(s.baseDir, ".rotated_at."+id)
}

// writeRotatedAt stamps id's rotation timestamp to disk and caches it
// in-memory.
func (s *KeyStore) writeRotatedAt(id string, at time.Time) error {
	raw := strconv.FormatInt(at.Unix(), 10)
	if err := os.WriteFile(s.rotatedAtPath(id), []byte(raw), 0o600); err != nil {
		return fmt.Errorf("writing rotation timestamp: %w", err)
	}
	s.mu.Lock()
	s.rotatedAt[id] = at
	s.mu.Unlock()
	return nil
}

// readRotatedAt returns id's rotation timestamp, checked in-memory first and
// falling back to the persisted file so a freshly constructed KeyStore
// (e.g. after a process restart) still knows when id last rotated.
func (s *KeyStore) readRotatedAt(id string) (time.Time, bool) {
	s.mu.RLock()
	at, ok := s.rotatedAt[id]
	s.mu.RUnlock()
	if ok {
		return at, true
	}

	raw, err := os.ReadFile(s.rotatedAtPath(id))
	if err != nil {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	at = time.Unix(unix, 0)

	s.mu.Lock()
	s.rotatedAt[id] = at
	s.mu.Unlock()
	return at, true
}

// Save writes the public key unencrypted and the private key encrypted with
// passphrase under the configured KDF, and stamps the rotation-timestamp
// file so a freshly generated key reads back with a known rotation time.
func (s *KeyStore) Save(id string, kp *Keypair, passphrase string) error {
	if err := os.WriteFile(s.pubPath(id), kp.Public, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	salt := make([]byte, argon2SaltSize)
	if s.kdf == KDFArgon2id {
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
	}
	key := deriveKey(passphrase, s.kdf, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, kp.Private, nil)

	out := make([]byte, 0, 1+len(salt)+len(nonce)+len(ciphertext))
	out = append(out, byte(s.kdf))
	if s.kdf == KDFArgon2id {
		out = append(out, salt...)
	}
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(s.keyPath(id), out, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return s.writeRotatedAt(id, time.Now())
}

// ErrShortKeyFile is returned when a private-key file is too short to
// contain a version tag and a nonce, per spec.md §6.
var ErrShortKeyFile = errors.New("ratatoskr: private key file too short")

// Load reads and decrypts a keypair artifact. It returns ErrShortKeyFile for
// a malformed/truncated file, and an opaque decryption error if the
// passphrase is wrong or the ciphertext was tampered with.
func (s *KeyStore) Load(id string, passphrase string) (*Keypair, error) {
	pub, err := os.ReadFile(s.pubPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	raw, err := os.ReadFile(s.keyPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(raw) < 1+nonceSize {
		return nil, ErrShortKeyFile
	}

	kdf := KDF(raw[0])
	rest := raw[1:]

	var salt []byte
	if kdf == KDFArgon2id {
		if len(rest) < argon2SaltSize+nonceSize {
			return nil, ErrShortKeyFile
		}
		salt, rest = rest[:argon2SaltSize], rest[argon2SaltSize:]
	}

	if len(rest) < nonceSize {
		return nil, ErrShortKeyFile
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	key := deriveKey(passphrase, kdf, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	priv, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	return &Keypair{Public: ed25519.PublicKey(pub), Private: ed25519.PrivateKey(priv)}, nil
}

// Rotate atomically generates a new current keypair for id, moving the
// existing one to a deprecated slot that remains valid for verification
// during gracePeriod. It returns the new keypair.
func (s *KeyStore) Rotate(id, passphrase string, gracePeriod time.Duration) (*Keypair, error) {
	deprecatedID := id + ".deprecated." + hex.EncodeToString(randBytes(4))

	if _, err := os.Stat(s.pubPath(id)); err == nil {
		if err := os.Rename(s.pubPath(id), s.pubPath(deprecatedID)); err != nil {
			return nil, fmt.Errorf("deprecating public key: %w", err)
		}
		if err := os.Rename(s.keyPath(id), s.keyPath(deprecatedID)); err != nil {
			return nil, fmt.Errorf("deprecating private key: %w", err)
		}
		s.mu.Lock()
		s.deprecated[id] = deprecatedID
		s.deprecateAt[deprecatedID] = time.Now()
		s.mu.Unlock()
	} else {
		deprecatedID = ""
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	// Save stamps the rotation-timestamp file itself; it must run unlocked
	// since it takes s.mu internally.
	if err := s.Save(id, kp, passphrase); err != nil {
		return nil, err
	}

	go s.cleanupAfter(deprecatedID, gracePeriod)

	return kp, nil
}

func (s *KeyStore) cleanupAfter(deprecatedID string, gracePeriod time.Duration) {
	if deprecatedID == "" {
		return
	}
	time.Sleep(gracePeriod)
	s.CleanupDeprecated(deprecatedID, gracePeriod)
}

// CleanupDeprecated erases a deprecated key's artifacts once now - deprecated_at
// exceeds gracePeriod. Safe to call speculatively; it is a no-op if the
// grace period has not elapsed or the id is unknown.
func (s *KeyStore) CleanupDeprecated(deprecatedID string, gracePeriod time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.deprecateAt[deprecatedID]
	if !ok || time.Since(at) <= gracePeriod {
		return
	}
	_ = os.Remove(s.pubPath(deprecatedID))
	_ = os.Remove(s.keyPath(deprecatedID))
	delete(s.deprecateAt, deprecatedID)
}

// CurrentAndDeprecated returns the current public key for id and, if within
// its grace period, the previous (deprecated) public key, so verifiers can
// accept signatures from either per spec.md's rotation-continuity invariant.
func (s *KeyStore) CurrentAndDeprecated(id string) (current ed25519.PublicKey, deprecated ed25519.PublicKey, err error) {
	cur, err := os.ReadFile(s.pubPath(id))
	if err != nil {
		return nil, nil, fmt.Errorf("reading current public key: %w", err)
	}

	s.mu.RLock()
	depID, hasDep := s.deprecated[id]
	s.mu.RUnlock()
	if !hasDep {
		return ed25519.PublicKey(cur), nil, nil
	}

	dep, err := os.ReadFile(s.pubPath(depID))
	if err != nil {
		// Already cleaned up; current-only is still a valid answer.
		return ed25519.PublicKey(cur), nil, nil
	}
	return ed25519.PublicKey(cur), ed25519.PublicKey(dep), nil
}

// ShouldRotate reports whether id has no current key, or its last rotation
// is older than rotationInterval. The rotation timestamp is read from the
// in-memory cache with a fallback to the on-disk .rotated_at.{id} file, so a
// freshly constructed KeyStore (e.g. after a process restart) still reports
// correctly instead of assuming a just-rotated key.
func (s *KeyStore) ShouldRotate(id string, rotationInterval time.Duration) bool {
	if _, err := os.Stat(s.pubPath(id)); err != nil {
		return true
	}
	rotated, ok := s.readRotatedAt(id)
	if !ok {
		// A current key exists but we have no record of when it was last
		// rotated; treat it as due rather than silently never rotating.
		return true
	}
	return time.Since(rotated) > rotationInterval
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
