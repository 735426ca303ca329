package vantage6

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// decryptor unwraps result payloads for encrypted collaborations using the
// organisation's RSA private key.
type decryptor struct {
	key *rsa.PrivateKey
}

func newDecryptor(path string) (*decryptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %q: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("key %q is not PEM encoded", path)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key %q: %w", path, err)
	}

	return &decryptor{key: key}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return key, nil
}

func (d *decryptor) decrypt(payload []byte) ([]byte, error) {
	if d == nil || d.key == nil {
		return nil, errors.New("no private key loaded")
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, d.key, payload, nil)
}
