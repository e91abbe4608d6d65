package iam

import (
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptRounds is the work factor used when BCRYPT_ROUNDS is not
// configured. Hash verification at this cost takes on the order of a second,
// which is the point: it bounds offline guessing throughput.
const DefaultBcryptRounds = 14

// minEncodedHashLength is the length of a well-formed bcrypt hash in modular
// crypt format ($2a$NN$ plus 53 encoding characters). Anything shorter was
// produced by an older scheme and must be upgraded.
const minEncodedHashLength = 60

// PasswordService hashes and verifies managed-user passwords.
//
// Passwords are prehashed with SHA-512 before bcrypt. bcrypt truncates input
// beyond 72 bytes (and the Go implementation rejects it outright), so the
// fixed 64-byte digest guarantees every character of arbitrarily long
// passwords contributes to the hash.
type PasswordService struct {
	rounds int

	// dummyHash is compared against the presented password when no user row
	// exists, so unknown-user and wrong-password attempts take statistically
	// indistinguishable time.
	dummyHash string
}

// NewPasswordService creates a password service with the given bcrypt work
// factor. Out-of-range factors are clamped to the limits bcrypt accepts.
func NewPasswordService(rounds int) *PasswordService {
	if rounds < bcrypt.MinCost {
		rounds = bcrypt.MinCost
	}
	if rounds > bcrypt.MaxCost {
		rounds = bcrypt.MaxCost
	}

	s := &PasswordService{rounds: rounds}

	// The dummy hash only has to exist, not be secret. Cost is clamped and
	// the input is non-empty, so this cannot fail.
	if dummy, err := s.CreateHash("warden-equalizer"); err == nil {
		s.dummyHash = dummy
	}

	return s
}

// Rounds returns the configured bcrypt work factor.
func (s *PasswordService) Rounds() int {
	return s.rounds
}

// CreateHash hashes a password for storage.
func (s *PasswordService) CreateHash(password string) (string, error) {
	digest := sha512.Sum512([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(digest[:], s.rounds)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether a presented password matches a stored hash.
func (s *PasswordService) Matches(password, storedHash string) bool {
	digest := sha512.Sum512([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest[:]) == nil
}

// ShouldRehash reports whether a stored hash needs to be upgraded: it is
// shorter than a well-formed bcrypt hash, its cost cannot be parsed, or its
// cost is below the configured work factor. Callers rehash transparently
// after a successful login, the only moment the plaintext is available.
func (s *PasswordService) ShouldRehash(storedHash string) bool {
	if len(storedHash) < minEncodedHashLength {
		return true
	}

	cost, err := bcrypt.Cost([]byte(storedHash))
	if err != nil {
		return true
	}

	return cost < s.rounds
}

// DummyCompare burns the same bcrypt work a real verification would, with
// the result discarded. Called on the unknown-user path.
func (s *PasswordService) DummyCompare(password string) {
	if s.dummyHash == "" {
		return
	}
	_ = s.Matches(password, s.dummyHash)
}
