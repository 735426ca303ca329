package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/strongaya/federated-data-portal/internal/vantage6"
)

// Source produces one fetch of collaboration descriptives.
type Source interface {
	Fetch(ctx context.Context) ([]vantage6.OrganisationDescriptives, error)
}

// Vantage6Source runs the descriptive statistics task on the collaboration
// server.
type Vantage6Source struct {
	Client *vantage6.Client
}

// Fetch submits a uniquely named task and waits for its results.
func (s *Vantage6Source) Fetch(ctx context.Context) ([]vantage6.OrganisationDescriptives, error) {
	name := fmt.Sprintf("portal-descriptives-%s", uuid.NewString()[:8])
	return s.Client.Descriptives(ctx, name)
}

// FileSource reads descriptives from a local result file. It backs local
// development and deployments without provisioned vantage6 secrets.
type FileSource struct {
	Path string
}

// Fetch re-reads the file on every call so edits show up without restarts.
func (s *FileSource) Fetch(_ context.Context) ([]vantage6.OrganisationDescriptives, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read mock result %q: %w", s.Path, err)
	}

	var descriptives []vantage6.OrganisationDescriptives
	if err := json.Unmarshal(data, &descriptives); err != nil {
		return nil, fmt.Errorf("decode mock result %q: %w", s.Path, err)
	}
	return descriptives, nil
}
