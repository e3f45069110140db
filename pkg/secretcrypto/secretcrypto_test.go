// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package secretcrypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/s3db/pkg/secretcrypto"
)

func TestEncryptDecrypt(t *testing.T) {
	plaintext := []byte("4111-1111-1111-1111")

	sealed, err := secretcrypto.Encrypt("correct horse", plaintext)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), string(plaintext))

	opened, err := secretcrypto.Decrypt("correct horse", sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestEncryptFreshSalt(t *testing.T) {
	a, err := secretcrypto.Encrypt("pass", []byte("same value"))
	require.NoError(t, err)
	b, err := secretcrypto.Encrypt("pass", []byte("same value"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := secretcrypto.Encrypt("right", []byte("data"))
	require.NoError(t, err)

	_, err = secretcrypto.Decrypt("wrong", sealed)
	require.Error(t, err)
	require.True(t, secretcrypto.ErrEncryption.Has(err))
}

func TestDecryptTampered(t *testing.T) {
	sealed, err := secretcrypto.Encrypt("pass", []byte("data"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = secretcrypto.Decrypt("pass", sealed)
	require.True(t, secretcrypto.ErrEncryption.Has(err))

	_, err = secretcrypto.Decrypt("pass", sealed[:10])
	require.True(t, secretcrypto.ErrEncryption.Has(err))
}

func TestPasswordHash(t *testing.T) {
	hash, err := secretcrypto.HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)

	require.NoError(t, secretcrypto.CheckPassword(hash, "hunter2"))
	require.Error(t, secretcrypto.CheckPassword(hash, "hunter3"))
}
