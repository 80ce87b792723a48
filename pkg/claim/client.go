package claim

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

// ErrProvisioning is the base error for any claim failure: transport,
// authentication, or response parsing.
var ErrProvisioning = errors.New("claim: provisioning failed")

// ErrInvalidConfig is returned when the client configuration is unusable.
var ErrInvalidConfig = errors.New("claim: invalid configuration")

const (
	defaultTimeout = 30 * time.Second

	initiatePath = "/claim/initiate"
	verifyPath   = "/claim/verify"

	proofInfo = "cloudlink-claim-proof-v1"
)

// Config configures a claim client.
type Config struct {
	// BaseURL is the claim service base URL (e.g., "https://claim.example.com").
	BaseURL string

	// NodeID is the device identity being claimed.
	NodeID string

	// Secret is the device's hardware-unique secret used to prove
	// possession during the challenge-response exchange.
	Secret []byte

	// Timeout for each HTTP request.
	Timeout time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Client performs the claim exchange against the claim service and
// persists the resulting session credentials.
type Client struct {
	config     Config
	baseURL    *url.URL
	httpClient *http.Client
	store      storage.Store
}

// initiateRequest starts a claim exchange.
type initiateRequest struct {
	RequestID string `json:"request_id"`
	NodeID    string `json:"node_id"`
	Platform  string `json:"platform"`
}

// initiateResponse carries the service challenge.
type initiateResponse struct {
	Challenge string `json:"challenge"`
}

// verifyRequest answers the challenge with a possession proof.
type verifyRequest struct {
	RequestID string `json:"request_id"`
	NodeID    string `json:"node_id"`
	Proof     string `json:"proof"`
}

// verifyResponse carries the issued session credentials.
type verifyResponse struct {
	Endpoint    string `json:"endpoint"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	ServerCA    string `json:"server_ca,omitempty"`
}

// NewClient creates a claim client that stores received credentials in store.
func NewClient(config Config, store storage.Store) (*Client, error) {
	if config.BaseURL == "" || config.NodeID == "" || len(config.Secret) == 0 {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, ErrInvalidConfig
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base URL: %v", ErrInvalidConfig, err)
	}

	return &Client{
		config:     config,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		store:      store,
	}, nil
}

// Perform runs the initiate/verify exchange and persists the received
// credentials. Any failure is returned wrapped in ErrProvisioning; no
// partial credentials are stored.
func (c *Client) Perform(ctx context.Context) error {
	requestID := uuid.NewString()

	c.debugLog("claim: initiating", "nodeID", c.config.NodeID, "requestID", requestID)

	var initResp initiateResponse
	initReq := initiateRequest{
		RequestID: requestID,
		NodeID:    c.config.NodeID,
		Platform:  "cloudlink-go",
	}
	if err := c.doRequest(ctx, initiatePath, initReq, &initResp); err != nil {
		return err
	}
	if initResp.Challenge == "" {
		return fmt.Errorf("%w: empty challenge", ErrProvisioning)
	}

	proof, err := c.proveChallenge(initResp.Challenge)
	if err != nil {
		return err
	}

	var verResp verifyResponse
	verReq := verifyRequest{
		RequestID: requestID,
		NodeID:    c.config.NodeID,
		Proof:     proof,
	}
	if err := c.doRequest(ctx, verifyPath, verReq, &verResp); err != nil {
		return err
	}

	creds := &session.Credentials{
		Endpoint:   verResp.Endpoint,
		ClientCert: []byte(verResp.Certificate),
		ClientKey:  []byte(verResp.PrivateKey),
		ServerCA:   []byte(verResp.ServerCA),
	}
	blob, err := session.EncodeCredentials(creds)
	if err != nil {
		return fmt.Errorf("%w: unusable credentials: %v", ErrProvisioning, err)
	}

	if err := c.store.Set(storage.KeyCredentials, blob); err != nil {
		return fmt.Errorf("%w: store credentials: %v", ErrProvisioning, err)
	}

	c.debugLog("claim: complete", "nodeID", c.config.NodeID, "endpoint", verResp.Endpoint)
	return nil
}

// proveChallenge derives the possession proof for a challenge from the
// device secret via HKDF-SHA256.
func (c *Client) proveChallenge(challenge string) (string, error) {
	reader := hkdf.New(sha256.New, c.config.Secret, []byte(challenge), []byte(proofInfo))
	proof := make([]byte, 32)
	if _, err := io.ReadFull(reader, proof); err != nil {
		return "", fmt.Errorf("%w: derive proof: %v", ErrProvisioning, err)
	}
	return hex.EncodeToString(proof), nil
}

// doRequest POSTs a JSON body and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, path string, body, out any) error {
	endpoint := c.baseURL.JoinPath(path).String()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrProvisioning, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrProvisioning, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrProvisioning, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProvisioning, err)
	}
	return nil
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}
