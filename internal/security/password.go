// Package security implements login authentication, ACL checks, blacklist
// checks and connection-flapping detection (spec §4.6). Hashing schemes are
// grounded on golang.org/x/crypto, the same module the corpus reaches for
// credential work in gonzalop-mq/examples/scram_auth and haivivi-giztoy/go.
package security

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// HashKind enumerates the password encodings the broker accepts at Connect
// time (spec §4.6).
type HashKind string

const (
	HashPlain  HashKind = "plain"
	HashMD5    HashKind = "md5"
	HashSHA1   HashKind = "sha1"
	HashSHA256 HashKind = "sha256"
	HashSHA512 HashKind = "sha512"
	HashBcrypt HashKind = "bcrypt"
	HashPBKDF2 HashKind = "pbkdf2"
)

// SaltPosition describes where a salt is concatenated relative to the
// password prior to hashing.
type SaltPosition string

const (
	SaltNone   SaltPosition = "none"
	SaltPrefix SaltPosition = "prefix"
	SaltSuffix SaltPosition = "suffix"
)

// PBKDF2Params carries the tunables spec §4.6 calls out, with its defaults.
type PBKDF2Params struct {
	Mac        string // "sha1", "sha256", or "sha512"
	Iterations int
	KeyLen     int
}

// DefaultPBKDF2Params matches spec §4.6's stated defaults.
var DefaultPBKDF2Params = PBKDF2Params{Mac: "sha256", Iterations: 4096, KeyLen: 32}

// StoredCredential is the verification record for one user (spec §3 is
// silent on the exact encoding; this mirrors what a UserStore persists).
type StoredCredential struct {
	Kind   HashKind
	Salt   string
	SaltAt SaltPosition
	PBKDF2 PBKDF2Params
	// Hash is the stored digest: hex-encoded for the digest kinds, the raw
	// bcrypt-library encoding for HashBcrypt, hex for HashPBKDF2.
	Hash string
}

// VerifyPassword checks a plaintext password against a StoredCredential,
// implementing every scheme spec §4.6 enumerates.
func VerifyPassword(cred StoredCredential, plaintext string) (bool, error) {
	switch cred.Kind {
	case HashPlain:
		return plaintext == cred.Hash, nil
	case HashMD5:
		return digestMatches(cred, plaintext, md5.New), nil
	case HashSHA1:
		return digestMatches(cred, plaintext, sha1.New), nil
	case HashSHA256:
		return digestMatches(cred, plaintext, sha256.New), nil
	case HashSHA512:
		return digestMatches(cred, plaintext, sha512.New), nil
	case HashBcrypt:
		var err = bcrypt.CompareHashAndPassword([]byte(cred.Hash), []byte(salted(cred, plaintext)))
		return err == nil, nil
	case HashPBKDF2:
		return pbkdf2Matches(cred, plaintext)
	default:
		return false, errors.Errorf("security: unknown password hash kind %q", cred.Kind)
	}
}

func salted(cred StoredCredential, plaintext string) string {
	switch cred.SaltAt {
	case SaltPrefix:
		return cred.Salt + plaintext
	case SaltSuffix:
		return plaintext + cred.Salt
	default:
		return plaintext
	}
}

func digestMatches(cred StoredCredential, plaintext string, newHash func() hash.Hash) bool {
	var h = newHash()
	h.Write([]byte(salted(cred, plaintext)))
	return hex.EncodeToString(h.Sum(nil)) == cred.Hash
}

func pbkdf2Matches(cred StoredCredential, plaintext string) (bool, error) {
	var params = cred.PBKDF2
	if params.Iterations == 0 {
		params = DefaultPBKDF2Params
	}
	var newHash func() hash.Hash
	switch params.Mac {
	case "sha1", "":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return false, errors.Errorf("security: unknown pbkdf2 mac %q", params.Mac)
	}
	var derived = pbkdf2.Key([]byte(salted(cred, plaintext)), []byte(cred.Salt), params.Iterations, params.KeyLen, newHash)
	return hex.EncodeToString(derived) == cred.Hash, nil
}
