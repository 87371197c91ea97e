// Package auth encodes passwords in the formats the CATMAID Django backend
// accepts, so fixture users can log in through the regular login form.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/errs"
)

// PasswordHasher abstracts password hashing for testability.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// Django's PBKDF2PasswordHasher defaults.
const (
	pbkdf2Algorithm  = "pbkdf2_sha256"
	pbkdf2Iterations = 260000
	pbkdf2KeyLen     = 32
)

// Argon2 parameters match Django's Argon2PasswordHasher (argon2-cffi defaults).
const (
	argon2Algorithm = "argon2"
	argon2Time      = 2
	argon2Memory    = 102400
	argon2Threads   = 8
	argon2KeyLen    = 32
	argon2SaltLen   = 16
)

// Django salts are drawn from this alphabet.
const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// PBKDF2Hasher produces "pbkdf2_sha256$<iterations>$<salt>$<b64 hash>".
type PBKDF2Hasher struct {
	Iterations int
}

func (h PBKDF2Hasher) iterations() int {
	if h.Iterations <= 0 {
		return pbkdf2Iterations
	}
	return h.Iterations
}

func (h PBKDF2Hasher) HashPassword(password string) (string, error) {
	salt, err := randomSalt(22)
	if err != nil {
		return "", err
	}
	return encodePBKDF2(password, salt, h.iterations()), nil
}

func (h PBKDF2Hasher) VerifyPassword(password, encodedHash string) bool {
	parts := strings.SplitN(encodedHash, "$", 4)
	if len(parts) != 4 || parts[0] != pbkdf2Algorithm {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	candidate := encodePBKDF2(password, parts[2], iterations)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(encodedHash)) == 1
}

func encodePBKDF2(password, salt string, iterations int) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", pbkdf2Algorithm, iterations, salt, base64.StdEncoding.EncodeToString(key))
}

// Argon2Hasher produces "argon2$argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>"
// with unpadded base64 salt and hash.
type Argon2Hasher struct{}

func (Argon2Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("%s$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Algorithm, argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

func (Argon2Hasher) VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != argon2Algorithm || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory uint32
	var iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	actual := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// HasherByName returns the hasher for a PASSWORD_HASHER value.
func HasherByName(name string) (PasswordHasher, error) {
	switch name {
	case config.HasherPBKDF2, "":
		return PBKDF2Hasher{}, nil
	case config.HasherArgon2:
		return Argon2Hasher{}, nil
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown password hasher %q", name))
	}
}

func randomSalt(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	for i, b := range buf {
		buf[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return string(buf), nil
}

const fakePrefix = "fake$"

// FakeInsecureHasher stores "fake$<password>". Django rejects it, so it is
// only useful for store-level tests that never log in through a browser.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return fakePrefix + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	stored, ok := strings.CutPrefix(encodedHash, fakePrefix)
	return ok && stored == password
}
