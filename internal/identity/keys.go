package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/safe"
)

// maxKeyFileSize bounds the signing key file read; an RSA-2048 PEM block is
// well under a kilobyte, so anything past this is not a key we wrote.
const maxKeyFileSize = 1 << 16

// KeyMaterial holds the current RS256 signing key plus the key id used in
// token headers and JWKS entries.
type KeyMaterial struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// JWK is the public-key JSON representation served at the JWKS endpoint.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSDocument is the well-known JWKS response body.
type JWKSDocument struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS renders the current key as a JWKS document.
func (k *KeyMaterial) PublicJWKS() JWKSDocument {
	pub := k.PrivateKey.PublicKey
	return JWKSDocument{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Kid: k.KeyID,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// LoadOrGenerateKey reads a PEM-encoded RSA private key from keyPath,
// generating and persisting a fresh 2048-bit key (mode 0600) on first run.
func LoadOrGenerateKey(keyPath string) (*KeyMaterial, error) {
	if data, err := safe.ReadFile(keyPath, &safe.CopyFileOptions{MaxSize: maxKeyFileSize}); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("decode PEM from %s: no block found", keyPath)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key %s: %w", keyPath, err)
		}
		kid, ok := block.Headers["kid"]
		if !ok || kid == "" {
			kid = uuid.NewString()
		}
		return &KeyMaterial{KeyID: kid, PrivateKey: key}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signing key %s: %w", keyPath, err)
	}

	km, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	block := &pem.Block{
		Type:    "RSA PRIVATE KEY",
		Headers: map[string]string{"kid": km.KeyID},
		Bytes:   x509.MarshalPKCS1PrivateKey(km.PrivateKey),
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}

	return km, nil
}

// GenerateKey creates a fresh, unpersisted 2048-bit RS256 key pair, used
// for in-place key rotation where the caller decides whether and where to
// persist it.
func GenerateKey() (*KeyMaterial, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &KeyMaterial{KeyID: uuid.NewString(), PrivateKey: key}, nil
}
