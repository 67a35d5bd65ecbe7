// Package password provides one-way credential hashing for the identity
// store. The hashing algorithm is a deliberate seam: the authority only ever
// sees the Hasher interface.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hasher is the one-way credential verifier used by the session authority.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
}

const (
	algorithmID = "argon2id"

	defaultMemoryKB    uint32 = 64 * 1024
	defaultTimeCost    uint32 = 2
	defaultParallelism uint8  = 2
	defaultSaltLength  uint32 = 16
	defaultKeyLength   uint32 = 32
)

// Argon2 hashes credentials with argon2id in PHC string format.
type Argon2 struct {
	memory      uint32
	time        uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewArgon2 returns a hasher with production-safe parameters.
func NewArgon2() *Argon2 {
	return &Argon2{
		memory:      defaultMemoryKB,
		time:        defaultTimeCost,
		parallelism: defaultParallelism,
		saltLength:  defaultSaltLength,
		keyLength:   defaultKeyLength,
	}
}

// Hash derives a salted argon2id digest of plaintext.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password: empty plaintext")
	}

	salt := make([]byte, a.saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plaintext), salt, a.time, a.memory, a.parallelism, a.keyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.memory,
		a.time,
		a.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest under the parameters recorded in encoded and
// compares in constant time. A structurally invalid hash yields an error;
// the authority maps every failure to the same generic credential rejection.
func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	memory, timeCost, parallelism, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), salt, timeCost, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

func parsePHC(encoded string) (memory, timeCost uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return 0, 0, 0, nil, nil, errors.New("password: malformed hash")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return 0, 0, 0, nil, nil, errors.New("password: malformed hash version")
	}
	if version != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("password: unsupported argon2 version")
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return 0, 0, 0, nil, nil, errors.New("password: malformed hash parameters")
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, errors.New("password: degenerate hash parameters")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, errors.New("password: malformed salt")
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, errors.New("password: malformed digest")
	}

	return memory, timeCost, parallelism, salt, key, nil
}
