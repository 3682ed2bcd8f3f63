package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/sha3"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Params holds the fixed Argon2id cost parameters and output geometry for a
// [Hasher]. Instances are validated at construction and never mutated.
type Params struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the production cost profile: 64 MiB memory, 3 passes,
// 2 lanes, 16-byte salt, 32-byte final hash.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and verifies password hashes. The primary derivation is
// Argon2id; the primary output is then absorbed together with the raw
// password into a SHAKE256 XOF whose output becomes the stored hash.
type Hasher struct {
	params Params
}

// New creates a [Hasher] with the given cost parameters. Parameters below the
// enforced floors are rejected.
func New(p Params) (*Hasher, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Encode hashes a raw password with a freshly generated salt and returns the
// self-contained blob base64url(salt || finalHash). Two calls with the same
// input produce different blobs; that is the fresh salt, not nondeterminism
// in the derivation.
func (h *Hasher) Encode(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty password")
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	final := h.derive(raw, salt)

	blob := make([]byte, 0, len(salt)+len(final))
	blob = append(blob, salt...)
	blob = append(blob, final...)

	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Matches reports whether raw corresponds to the encoded blob. It recomputes
// the derivation with the embedded salt and compares in constant time.
// Malformed or undersized blobs return false; Matches never returns an error
// and has no side effects.
func (h *Hasher) Matches(raw, encoded string) bool {
	if raw == "" || encoded == "" {
		return false
	}

	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	if uint32(len(blob)) != h.params.SaltLength+h.params.KeyLength {
		return false
	}

	salt := blob[:h.params.SaltLength]
	stored := blob[h.params.SaltLength:]

	computed := h.derive(raw, salt)

	return subtle.ConstantTimeCompare(computed, stored) == 1
}

// NeedsRehash reports whether the blob's geometry no longer matches the
// hasher's configured salt and key lengths, signalling that the password
// should be re-encoded on the next successful verification.
func (h *Hasher) NeedsRehash(encoded string) bool {
	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return true
	}
	return uint32(len(blob)) != h.params.SaltLength+h.params.KeyLength
}

// derive runs the two-stage derivation: Argon2id first, then SHAKE256 over
// (primary || password). The second stage binds the final hash to the raw
// password bytes so the stored value is not a pure function of the Argon2id
// output alone.
func (h *Hasher) derive(raw string, salt []byte) []byte {
	primary := argon2.IDKey(
		[]byte(raw),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	xof := sha3.NewShake256()
	_, _ = xof.Write(primary)
	_, _ = xof.Write([]byte(raw))

	final := make([]byte, h.params.KeyLength)
	_, _ = io.ReadFull(xof, final)
	return final
}

func validateParams(p Params) error {
	if p.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if p.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
