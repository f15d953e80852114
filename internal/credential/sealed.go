package credential

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltSize     = 16
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// sealedCodec encrypts the token with XChaCha20-Poly1305 under an
// Argon2id-derived key. Layout: base64(salt | nonce | ciphertext).
type sealedCodec struct {
	passphrase []byte
}

func (s sealedCodec) key(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func (s sealedCodec) encode(c Credential) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(c)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(c), nil)
	return base64.StdEncoding.EncodeToString(append(salt, sealed...)), nil
}

func (s sealedCodec) decode(v string) (Credential, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("sealed credential is not valid base64: %w", err)
	}
	if len(raw) < saltSize+chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("sealed credential is truncated")
	}

	salt, rest := raw[:saltSize], raw[saltSize:]
	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return "", err
	}

	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("sealed credential could not be opened (wrong key?): %w", err)
	}
	return Credential(plain), nil
}

func (sealedCodec) sealed() bool { return true }

// NewSealedFileStore creates a FileStore that encrypts the credential at rest.
func NewSealedFileStore(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("sealed credential store requires a passphrase")
	}
	fs := NewFileStore(path)
	fs.codec = sealedCodec{passphrase: []byte(passphrase)}
	return fs, nil
}
