package cipher

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidPublicKey = errors.New("invalid aggregator public key")
	ErrPayloadTooLarge  = errors.New("recipient payload too large for key")
)

// EncryptRecipient serializes payload as JSON and encrypts it with the
// PEM-encoded RSA public key using PKCS#1 v1.5. The result is base64.
func EncryptRecipient(publicKeyPEM string, payload any) (string, error) {
	return encrypt(rand.Reader, publicKeyPEM, payload)
}

func encrypt(random io.Reader, publicKeyPEM string, payload any) (string, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal recipient: %w", err)
	}
	if len(msg) > pub.Size()-11 {
		return "", ErrPayloadTooLarge
	}
	out, err := rsa.EncryptPKCS1v15(random, pub, msg)
	if err != nil {
		return "", fmt.Errorf("encrypt recipient: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// ParsePublicKey accepts both PKIX ("PUBLIC KEY") and PKCS#1
// ("RSA PUBLIC KEY") blocks.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, ErrInvalidPublicKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return pub, nil
	default:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, ErrInvalidPublicKey
		}
		return pub, nil
	}
}
