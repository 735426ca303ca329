package vantage6

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const sampleResult = `[
  {
    "organisation": "Clinic A",
    "country": "NL",
    "sample_size": "120",
    "variable_info": [
      {"main_class": "ncit:C28421", "main_class_count": 100, "sub_class": "ncit:C28421", "sub_class_count": 100}
    ]
  },
  {
    "organisation": "Clinic B",
    "country": "BE",
    "sample_size": 80,
    "variable_info": []
  }
]`

type fakeServer struct {
	t          *testing.T
	logins     atomic.Int64
	taskPolls  atomic.Int64
	pollsUntil int64
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token/user", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			f.t.Fatalf("decode credentials: %v", err)
		}
		if creds["username"] != "svc-user" || creds["password"] != "svc-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"msg": "invalid credentials"})
			return
		}
		f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})

	requireAuth := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"msg": "missing token"})
			return false
		}
		return true
	}

	mux.HandleFunc("GET /organization", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		if r.URL.Query().Get("collaboration_id") != "3" {
			f.t.Fatalf("unexpected collaboration filter %q", r.URL.Query().Get("collaboration_id"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 7, "name": "Clinic A"},
				{"id": 9, "name": "Clinic B"},
			},
		})
	})

	mux.HandleFunc("POST /task", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			f.t.Fatalf("decode task payload: %v", err)
		}
		if payload["collaboration_id"] != float64(3) {
			f.t.Fatalf("unexpected collaboration id %v", payload["collaboration_id"])
		}
		orgs := payload["organizations"].([]any)
		input := orgs[0].(map[string]any)["input"].(string)
		raw, err := base64.StdEncoding.DecodeString(input)
		if err != nil {
			f.t.Fatalf("task input is not base64: %v", err)
		}
		var call map[string]any
		if err := json.Unmarshal(raw, &call); err != nil {
			f.t.Fatalf("task input is not JSON: %v", err)
		}
		if call["method"] != "retrieve_collaboration_descriptives" {
			f.t.Fatalf("unexpected task method %v", call["method"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42})
	})

	mux.HandleFunc("GET /task/42", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		status := StatusCompleted
		if f.taskPolls.Add(1) <= f.pollsUntil {
			status = StatusActive
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "status": status})
	})

	mux.HandleFunc("GET /result", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		if r.URL.Query().Get("task_id") != "42" {
			f.t.Fatalf("unexpected task filter %q", r.URL.Query().Get("task_id"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 1, "result": base64.StdEncoding.EncodeToString([]byte(sampleResult))},
			},
		})
	})

	return mux
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:                 baseURL,
		Username:                "svc-user",
		Password:                "svc-pass",
		Collaboration:           3,
		AggregatingOrganisation: 7,
		TaskImage:               "ghcr.io/strong-aya/triplestore-descriptives:latest",
		TaskMethod:              "retrieve_collaboration_descriptives",
		TaskTimeout:             5 * time.Second,
		PollInterval:            time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestDescriptivesFullRoundTrip(t *testing.T) {
	fake := &fakeServer{t: t, pollsUntil: 2}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)

	descriptives, err := client.Descriptives(context.Background(), "portal refresh")
	if err != nil {
		t.Fatalf("descriptives: %v", err)
	}

	if len(descriptives) != 2 {
		t.Fatalf("expected 2 organisations, got %d", len(descriptives))
	}
	if descriptives[0].SampleSize.Int() != 120 {
		t.Fatalf("expected quoted sample_size to decode, got %d", descriptives[0].SampleSize.Int())
	}
	if descriptives[1].Country != "BE" {
		t.Fatalf("unexpected country %s", descriptives[1].Country)
	}
	if polls := fake.taskPolls.Load(); polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
	if logins := fake.logins.Load(); logins != 1 {
		t.Fatalf("expected a single login, got %d", logins)
	}
}

func TestLoginFailureSurfacesAPIError(t *testing.T) {
	fake := &fakeServer{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, func(o *Options) {
		o.Password = "wrong"
	})

	err := client.Login(context.Background())
	if err == nil {
		t.Fatalf("expected login failure")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", apiErr.Status)
	}
	if apiErr.Message != "invalid credentials" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestOrganizations(t *testing.T) {
	fake := &fakeServer{t: t}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)

	orgs, err := client.Organizations(context.Background())
	if err != nil {
		t.Fatalf("organizations: %v", err)
	}
	if len(orgs) != 2 || orgs[0].Name != "Clinic A" || orgs[1].ID != 9 {
		t.Fatalf("unexpected organisations %+v", orgs)
	}
}

func TestWaitForResultsFailsOnCrashedTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token/user", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})
	mux.HandleFunc("GET /task/13", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 13, "status": StatusCrashed})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)

	_, err := client.WaitForResults(context.Background(), 13)
	if err == nil {
		t.Fatalf("expected crashed task to fail")
	}
}

func TestDecodeResultDecryptsWithPrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "private_key.pem")
	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(keyPath, pemData, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	plaintext := []byte(`[{"organisation": "Clinic A", "country": "NL", "sample_size": 5, "variable_info": []}]`)
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, plaintext, nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	client := newTestClient(t, "http://unused", func(o *Options) {
		o.PrivateKeyPath = keyPath
	})

	descriptives, err := client.decodeResult(base64.StdEncoding.EncodeToString(ciphertext))
	if err != nil {
		t.Fatalf("decode encrypted result: %v", err)
	}
	if len(descriptives) != 1 || descriptives[0].Organisation != "Clinic A" {
		t.Fatalf("unexpected descriptives %+v", descriptives)
	}
}

func TestFlexIntRejectsGarbage(t *testing.T) {
	var record OrganisationDescriptives
	err := json.Unmarshal([]byte(`{"organisation": "X", "sample_size": "many"}`), &record)
	if err == nil {
		t.Fatalf("expected decode error for non-numeric sample size")
	}
	if got := fmt.Sprintf("%v", err); got == "" {
		t.Fatalf("expected descriptive error")
	}
}

func TestDecodeServerMessage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"msg field", `{"msg": "user not found"}`, "user not found"},
		{"json without msg", `{"errors": ["collaboration offline"]}`, `{"errors": ["collaboration offline"]}`},
		{"plain text", "  gateway timeout\n", "gateway timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodeServerMessage([]byte(tc.body)); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
