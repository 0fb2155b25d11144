package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"beacon/internal/crypto"
)

// sealedFormatVersion is the newest on-disk sealed blob layout this code reads.
const sealedFormatVersion = 1

// ErrWrongPassphrase is returned when the passphrase is wrong or the sealed
// file was modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted identity")

// kdfParams are the scrypt cost parameters stored alongside the ciphertext.
type kdfParams struct {
	N int `json:"scrypt_N"`
	R int `json:"scrypt_r"`
	P int `json:"scrypt_p"`
}

func defaultKDF() kdfParams { return kdfParams{N: 1 << 15, R: 8, P: 1} }

// sealed is the on-disk JSON structure for passphrase-protected data.
type sealed struct {
	V    int    `json:"v"`
	Salt []byte `json:"salt"`
	kdfParams
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

func (p kdfParams) key(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
}

// seal encrypts raw under a key derived from passphrase. The salt is bound
// as associated data.
func seal(passphrase string, raw []byte, p kdfParams) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := p.key(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(sealed{
		V:         sealedFormatVersion,
		Salt:      salt,
		kdfParams: p,
		Nonce:     nonce,
		Cipher:    aead.Seal(nil, nonce, raw, salt),
	})
}

// open reverses seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var s sealed
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode sealed blob: %w", err)
	}
	if s.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported sealed blob version %d", s.V)
	}
	key, err := s.key(passphrase, s.Salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, s.Nonce, s.Cipher, s.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
