package identity

import (
	"errors"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"beacon/internal/crypto"
	"beacon/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrIdentityExists is returned when an identity is already stored and
	// overwrite was not requested, whichever passphrase sealed it.
	ErrIdentityExists = errors.New("identity already exists")
)

// Service manages identity key creation and access using a backing store.
type Service struct {
	store domain.IdentityStore
	log   *zap.Logger
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, log: log}
}

// GenerateIdentity creates a new identity and saves it sealed with the
// passphrase. A stored identity is replaced only when overwrite is set.
func (s *Service) GenerateIdentity(passphrase string, overwrite bool) (domain.Identity, error) {
	if err := s.checkWritable(passphrase, overwrite); err != nil {
		return domain.Identity{}, err
	}
	id, err := crypto.NewIdentity()
	if err != nil {
		return domain.Identity{}, err
	}
	return id, s.save(passphrase, id)
}

// ImportSeed rebuilds an identity from a 32-byte Ed25519 seed and saves it.
// Like GenerateIdentity it replaces a stored identity only on overwrite.
func (s *Service) ImportSeed(passphrase string, seed []byte, overwrite bool) (domain.Identity, error) {
	if err := s.checkWritable(passphrase, overwrite); err != nil {
		return domain.Identity{}, err
	}
	id, err := crypto.IdentityFromSeed(seed)
	if err != nil {
		return domain.Identity{}, err
	}
	return id, s.save(passphrase, id)
}

func (s *Service) checkWritable(passphrase string, overwrite bool) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	exists, err := s.store.HasIdentity()
	if err != nil {
		return fmt.Errorf("check identity: %w", err)
	}
	if exists && !overwrite {
		return ErrIdentityExists
	}
	if exists {
		s.log.Warn("replacing stored identity")
	}
	return nil
}

func (s *Service) save(passphrase string, id domain.Identity) error {
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	s.log.Info("identity stored", zap.String("agent_id", id.AgentID.String()))
	return nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
