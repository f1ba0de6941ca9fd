package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/ports"
)

// KeySize is the AES-256 key length.
const KeySize = 32

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new snapshots.
	ActiveKey []byte

	// FallbackKeys are older keys tried when the active key cannot open a
	// stored snapshot, so keys can be rotated without rewriting the store.
	FallbackKeys [][]byte
}

// Validate checks every key length.
func (c EncryptionConfig) Validate() error {
	if len(c.ActiveKey) != KeySize {
		return fmt.Errorf("%w: active key must be %d bytes", domain.ErrInvalidRequest, KeySize)
	}
	for i, k := range c.FallbackKeys {
		if len(k) != KeySize {
			return fmt.Errorf("%w: fallback key %d must be %d bytes", domain.ErrInvalidRequest, i, KeySize)
		}
	}
	return nil
}

type encryptionMiddleware struct {
	next   ports.SnapshotStore
	config EncryptionConfig
}

// NewEncryption creates a middleware that seals snapshots with AES-GCM. The
// canvas id is bound as additional data, so a sealed snapshot only opens
// under the id it was saved as.
func NewEncryption(config EncryptionConfig) (Middleware, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, canvasID string, snap *domain.Snapshot) error {
	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	sealed, err := encrypt(plain, m.config.ActiveKey, []byte(canvasID))
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	// the envelope keeps only what listing and monitoring need
	envelope := &domain.Snapshot{
		Version:  snap.Version,
		CanvasID: canvasID,
		SavedAt:  snap.SavedAt,
		Sealed:   base64.StdEncoding.EncodeToString(sealed),
	}
	return m.next.Save(ctx, canvasID, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, canvasID string) (*domain.Snapshot, error) {
	envelope, err := m.next.Load(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	if envelope.Sealed == "" {
		return nil, fmt.Errorf("%w: snapshot %s is not encrypted", domain.ErrInvalidRequest, canvasID)
	}

	sealed, err := base64.StdEncoding.DecodeString(envelope.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed snapshot: %w", err)
	}
	plain, err := decryptWithRotation(sealed, []byte(canvasID), m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot %s: %w", canvasID, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted snapshot: %w", err)
	}
	snap.CanvasID = canvasID
	return &snap, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, canvasID string) error {
	return m.next.Delete(ctx, canvasID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func decryptWithRotation(ciphertext, aad, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey, aad); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key, aad); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, aad)
}
