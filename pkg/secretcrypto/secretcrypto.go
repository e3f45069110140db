// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package secretcrypto seals attribute values for at-rest storage in
// object metadata.
//
// Values are encrypted with AES-256-GCM using a key derived from the
// database passphrase with PBKDF2. Every value uses a fresh random
// salt, so equal plaintexts produce different ciphertexts. The sealed
// envelope is
//
//	salt (16 bytes) || nonce (12 bytes) || ciphertext || GCM tag
//
// Password attributes are not sealed but hashed with bcrypt; hashes
// are one-way and verified with CheckPassword.
package secretcrypto

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/gtank/cryptopasta"
	"github.com/zeebo/errs"
	"golang.org/x/crypto/pbkdf2"
)

// ErrEncryption is the class of all sealing and unsealing failures.
var ErrEncryption = errs.Class("secret encryption")

const (
	// SaltSize is the length of the random per-value PBKDF2 salt.
	SaltSize = 16
	// keyIterations is the PBKDF2 round count for key derivation.
	keyIterations = 100_000
)

// DeriveKey stretches a passphrase and salt into an AES-256 key.
func DeriveKey(passphrase string, salt []byte) *[32]byte {
	key := new([32]byte)
	copy(key[:], pbkdf2.Key([]byte(passphrase), salt, keyIterations, 32, sha256.New))
	return key
}

// Encrypt seals plaintext under a key derived from passphrase.
func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, ErrEncryption.Wrap(err)
	}

	sealed, err := cryptopasta.Encrypt(plaintext, DeriveKey(passphrase, salt))
	if err != nil {
		return nil, ErrEncryption.Wrap(err)
	}
	return append(salt, sealed...), nil
}

// Decrypt opens an envelope produced by Encrypt. It fails when the
// passphrase is wrong or the envelope has been modified.
func Decrypt(passphrase string, envelope []byte) ([]byte, error) {
	if len(envelope) <= SaltSize {
		return nil, ErrEncryption.New("envelope too short: %d bytes", len(envelope))
	}
	salt, sealed := envelope[:SaltSize], envelope[SaltSize:]

	plaintext, err := cryptopasta.Decrypt(sealed, DeriveKey(passphrase, salt))
	if err != nil {
		return nil, ErrEncryption.Wrap(err)
	}
	return plaintext, nil
}

// HashPassword hashes a password attribute with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := cryptopasta.HashPassword([]byte(password))
	if err != nil {
		return "", ErrEncryption.Wrap(err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a stored bcrypt hash.
func CheckPassword(hash, password string) error {
	if err := cryptopasta.CheckPasswordHash([]byte(hash), []byte(password)); err != nil {
		return ErrEncryption.Wrap(err)
	}
	return nil
}
