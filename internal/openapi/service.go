// Package openapi serves the portal's embedded OpenAPI document.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.json
var document []byte

// Service validates the embedded document once and serves it afterwards.
type Service struct {
	once sync.Once
	err  error
}

// NewService returns an uninitialised service. Validation happens lazily on
// first use so construction stays cheap.
func NewService() *Service {
	return &Service{}
}

// Validate parses the embedded document and checks it against the OpenAPI 3
// specification.
func (s *Service) Validate(ctx context.Context) error {
	s.once.Do(func() {
		loader := openapi3.NewLoader()
		loader.Context = ctx

		doc, err := loader.LoadFromData(document)
		if err != nil {
			s.err = fmt.Errorf("parse openapi document: %w", err)
			return
		}
		if err := doc.Validate(ctx); err != nil {
			s.err = fmt.Errorf("validate openapi document: %w", err)
		}
	})
	return s.err
}

// ServeHTTP writes the document.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.Validate(r.Context()); err != nil {
		http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
}
