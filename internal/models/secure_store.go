// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/keygen-sh/machineid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/hkdf"

	"github.com/dionysus-media/dionysus/internal/dbinterface"
	"github.com/dionysus-media/dionysus/internal/domain"
)

var ErrSecretNotFound = errors.New("secret not found")

const (
	secureStoreAppID = "dionysus"
	secureStoreInfo  = "dionysus secure store v1"
	keySize          = 32
)

// MachineSalt binds derived keys to the current host. It returns nil when
// the machine id is unavailable, in which case keys derive from the secret alone.
func MachineSalt() []byte {
	id, err := machineid.ProtectedID(secureStoreAppID)
	if err != nil {
		log.Warn().Err(err).Msg("Machine id unavailable, secure store key is not host bound")
		return nil
	}
	return []byte(id)
}

// DeriveKey expands secret into a 32 byte AES key.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret cannot be empty")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(secureStoreInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecureStore is an encrypted key/value store for tokens and API keys.
type SecureStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewSecureStore(db dbinterface.Querier, encryptionKey []byte) (*SecureStore, error) {
	if len(encryptionKey) != keySize {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &SecureStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// Save stores value under key, replacing any previous value.
func (s *SecureStore) Save(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key cannot be empty")
	}

	encrypted, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}

	const query = `
		INSERT INTO secure_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, encrypted, time.Now().Unix()); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Read returns the decrypted value or ErrSecretNotFound.
func (s *SecureStore) Read(ctx context.Context, key string) (string, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secure_store WHERE key = ?`, key).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}

	value, err := s.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return value, nil
}

// Delete removes keys in one statement. Deleting a missing key is not an error.
func (s *SecureStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	query := `DELETE FROM secure_store WHERE key IN (` + dbinterface.InClause(len(keys)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s: %w", strings.Join(keys, ", "), err)
	}
	return nil
}

// Keys lists stored key names, not values.
func (s *SecureStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secure_store ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list secure keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// KeyFunc resolves name from the store on each call, falling back to
// fallback when nothing usable is stored.
func (s *SecureStore) KeyFunc(name, fallback string) domain.KeyFunc {
	return func(ctx context.Context) string {
		value, err := s.Read(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrSecretNotFound) {
				log.Warn().Err(err).Str("key", name).Msg("Failed to read stored key, using configured value")
			}
			return fallback
		}
		if strings.TrimSpace(value) == "" {
			return fallback
		}
		return value
	}
}

func (s *SecureStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *SecureStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
