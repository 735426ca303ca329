// Package secrets resolves externally provisioned credentials.
//
// Values are read from files in the orchestrator's secrets directory
// (/run/secrets by default), falling back to environment variables named
// after the upper-cased secret, so local development works without a
// container runtime.
package secrets

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDir is where the container runtime mounts provisioned secrets.
const DefaultDir = "/run/secrets"

// Reader resolves named secrets from disk with an environment fallback.
type Reader struct {
	dir       string
	lookupEnv func(string) (string, bool)
}

// Option customises a Reader.
type Option func(*Reader)

// WithLookupEnv overrides the environment lookup function (useful for tests).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Reader) {
		if fn != nil {
			r.lookupEnv = fn
		}
	}
}

// NewReader returns a reader rooted at dir, or DefaultDir when dir is empty.
func NewReader(dir string, opts ...Option) *Reader {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	r := &Reader{
		dir:       dir,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Read resolves a secret by name. The boolean reports whether the secret was
// provisioned at all; an empty provisioned value is still reported as found.
func (r *Reader) Read(name string) (string, bool) {
	if r == nil || strings.TrimSpace(name) == "" {
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err == nil {
		return strings.TrimSpace(string(data)), true
	}

	if value, ok := r.lookupEnv(strings.ToUpper(name)); ok {
		return strings.TrimSpace(value), true
	}

	return "", false
}
