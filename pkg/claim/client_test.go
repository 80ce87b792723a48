package claim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"

	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

const (
	testNodeID    = "AABBCCDDEEFF"
	testChallenge = "c2f1a7"
)

var testSecret = []byte("device-secret")

// expectedProof mirrors the client-side HKDF derivation.
func expectedProof(t *testing.T) string {
	t.Helper()
	reader := hkdf.New(sha256.New, testSecret, []byte(testChallenge), []byte(proofInfo))
	proof := make([]byte, 32)
	_, err := io.ReadFull(reader, proof)
	require.NoError(t, err)
	return hex.EncodeToString(proof)
}

// newClaimServer fakes the claim service for the happy path.
func newClaimServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/claim/initiate", func(w http.ResponseWriter, r *http.Request) {
		var req initiateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testNodeID, req.NodeID)
		assert.NotEmpty(t, req.RequestID)

		json.NewEncoder(w).Encode(initiateResponse{Challenge: testChallenge})
	})

	mux.HandleFunc("/claim/verify", func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Proof != expectedProof(t) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		json.NewEncoder(w).Encode(verifyResponse{
			Endpoint:    "broker.example.com:8883",
			Certificate: "CERT-PEM",
			PrivateKey:  "KEY-PEM",
			ServerCA:    "CA-PEM",
		})
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL string, store storage.Store) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL: baseURL,
		NodeID:  testNodeID,
		Secret:  testSecret,
	}, store)
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	store := storage.NewMemStore()

	tests := []struct {
		name   string
		config Config
		store  storage.Store
	}{
		{"missing base URL", Config{NodeID: testNodeID, Secret: testSecret}, store},
		{"missing node ID", Config{BaseURL: "http://c", Secret: testSecret}, store},
		{"missing secret", Config{BaseURL: "http://c", NodeID: testNodeID}, store},
		{"missing store", Config{BaseURL: "http://c", NodeID: testNodeID, Secret: testSecret}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, tt.store)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestPerformStoresCredentials(t *testing.T) {
	server := newClaimServer(t)
	defer server.Close()

	store := storage.NewMemStore()
	client := newTestClient(t, server.URL, store)

	require.NoError(t, client.Perform(context.Background()))

	blob, err := store.Get(storage.KeyCredentials)
	require.NoError(t, err)

	creds, err := session.DecodeCredentials(blob)
	require.NoError(t, err)
	assert.Equal(t, "broker.example.com:8883", creds.Endpoint)
	assert.Equal(t, []byte("CERT-PEM"), creds.ClientCert)
	assert.Equal(t, []byte("KEY-PEM"), creds.ClientKey)
	assert.Equal(t, []byte("CA-PEM"), creds.ServerCA)
}

func TestPerformWrongSecretRejected(t *testing.T) {
	server := newClaimServer(t)
	defer server.Close()

	store := storage.NewMemStore()
	client, err := NewClient(Config{
		BaseURL: server.URL,
		NodeID:  testNodeID,
		Secret:  []byte("wrong-secret"),
	}, store)
	require.NoError(t, err)

	err = client.Perform(context.Background())
	assert.ErrorIs(t, err, ErrProvisioning)

	// Nothing stored on failure.
	_, err = store.Get(storage.KeyCredentials)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPerformServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := storage.NewMemStore()
	client := newTestClient(t, server.URL, store)

	err := client.Perform(context.Background())
	assert.ErrorIs(t, err, ErrProvisioning)
}

func TestPerformMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	store := storage.NewMemStore()
	client := newTestClient(t, server.URL, store)

	err := client.Perform(context.Background())
	assert.ErrorIs(t, err, ErrProvisioning)
}

func TestPerformIncompleteCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/claim/initiate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(initiateResponse{Challenge: testChallenge})
	})
	mux.HandleFunc("/claim/verify", func(w http.ResponseWriter, r *http.Request) {
		// Missing key material.
		json.NewEncoder(w).Encode(verifyResponse{Endpoint: "broker:8883"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := storage.NewMemStore()
	client := newTestClient(t, server.URL, store)

	err := client.Perform(context.Background())
	assert.ErrorIs(t, err, ErrProvisioning)

	_, err = store.Get(storage.KeyCredentials)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
