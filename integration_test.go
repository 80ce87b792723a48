package cloudlink_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/cloudlink-iot/cloudlink-go/pkg/agent"
	"github.com/cloudlink-iot/cloudlink-go/pkg/claim"
	"github.com/cloudlink-iot/cloudlink-go/pkg/connectivity"
	"github.com/cloudlink-iot/cloudlink-go/pkg/node"
	"github.com/cloudlink-iot/cloudlink-go/pkg/session"
	"github.com/cloudlink-iot/cloudlink-go/pkg/storage"
)

// claimService is a minimal in-process claim service for end-to-end
// tests. It issues a fixed challenge and verifies the HKDF proof the
// same way the real service would.
type claimService struct {
	secret    []byte
	challenge string
	initiates atomic.Int32
}

func (s *claimService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/claim/initiate", func(w http.ResponseWriter, r *http.Request) {
		s.initiates.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"challenge": s.challenge})
	})

	mux.HandleFunc("/claim/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Proof string `json:"proof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		reader := hkdf.New(sha256.New, s.secret, []byte(s.challenge), []byte("cloudlink-claim-proof-v1"))
		want := make([]byte, 32)
		io.ReadFull(reader, want)
		if req.Proof != hex.EncodeToString(want) {
			http.Error(w, "proof mismatch", http.StatusUnauthorized)
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"endpoint":    "broker.example.com:8883",
			"certificate": "issued-cert",
			"private_key": "issued-key",
		})
	})

	return mux
}

func fixedMAC() (net.HardwareAddr, error) {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0xAB, 0xCD, 0xEF}, nil
}

// TestE2E_ClaimConnectReport walks the whole device lifecycle against
// real collaborators: an HTTP claim service, a file-backed store and a
// loopback broker. A second boot from the same state directory must
// reuse the stored credentials instead of claiming again.
func TestE2E_ClaimConnectReport(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	secret := []byte("device-secret-0001")
	svc := &claimService{secret: secret, challenge: "e2e-challenge"}
	server := httptest.NewServer(svc.handler())
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "agent.json")
	broker := session.NewBroker()

	boot := func() (*agent.Agent, *node.Node) {
		store, err := storage.OpenFileStore(statePath)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}

		online := connectivity.NewSignal()
		online.Set()

		a := agent.New()
		config := &agent.Config{
			Store:         store,
			Session:       broker.NewSession(),
			Connectivity:  online,
			SelfClaim:     true,
			DrainInterval: 20 * time.Millisecond,
			NewClaimer: func(nodeID string) (agent.Claimer, error) {
				return claim.NewClient(claim.Config{
					BaseURL: server.URL,
					NodeID:  nodeID,
					Secret:  secret,
				}, store)
			},
			HardwareAddr: fixedMAC,
		}

		n, err := a.InitWithNode(config, "Garden Light", "Lightbulb")
		if err != nil {
			t.Fatalf("init: %v", err)
		}
		d, err := n.AddDevice("Light", "device.light")
		if err != nil {
			t.Fatalf("add device: %v", err)
		}
		if _, err := d.AddParam("Power", "param.power", false, true); err != nil {
			t.Fatalf("add param: %v", err)
		}
		return a, n
	}

	waitStarted := func(a *agent.Agent) {
		deadline := time.Now().Add(5 * time.Second)
		for a.State() != agent.StateStarted {
			if time.Now().After(deadline) {
				t.Fatalf("agent did not start, state: %s", a.State())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	shutdown := func(a *agent.Agent) {
		if err := a.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		select {
		case <-a.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not stop")
		}
		if err := a.Deinit(); err != nil {
			t.Fatalf("deinit: %v", err)
		}
	}

	// First boot: no credentials, so the agent claims over HTTP.
	a, _ := boot()
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStarted(a)

	nodeID := a.NodeID()
	if got := svc.initiates.Load(); got != 1 {
		t.Fatalf("initiate calls = %d, want 1", got)
	}
	if payload := broker.Retained("node/" + nodeID + "/config"); payload == nil {
		t.Fatal("node config was not reported")
	}
	shutdown(a)

	// Second boot from the same state file: credentials are reused.
	a2, n2 := boot()
	if err := a2.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitStarted(a2)
	if got := svc.initiates.Load(); got != 1 {
		t.Fatalf("initiate calls after restart = %d, want 1", got)
	}

	// A remote parameter update round-trips through the queue and is
	// visible in the re-reported state.
	cloud := broker.NewSession()
	err := cloud.Configure(session.Config{
		ClientID: "cloud",
		Credentials: &session.Credentials{
			Endpoint:   "loopback",
			ClientCert: []byte("c"),
			ClientKey:  []byte("k"),
		},
	})
	if err != nil {
		t.Fatalf("configure cloud session: %v", err)
	}
	if err := cloud.Connect(context.Background()); err != nil {
		t.Fatalf("connect cloud session: %v", err)
	}
	defer cloud.Disconnect()

	payload, err := node.EncodeParamUpdates([]node.ParamUpdate{
		{Device: "Light", Param: "Power", Value: true},
	})
	if err != nil {
		t.Fatalf("encode updates: %v", err)
	}
	if err := cloud.Publish("node/"+nodeID+"/params/remote", payload); err != nil {
		t.Fatalf("publish updates: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if n2.State()["Light"]["Power"] == true {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("param update was not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stateDeadline := time.Now().Add(5 * time.Second)
	for {
		reported := broker.Retained("node/" + nodeID + "/params/local")
		if reported != nil {
			var state map[string]map[string]any
			if err := cbor.Unmarshal(reported, &state); err == nil && state["Light"]["Power"] == true {
				break
			}
		}
		if time.Now().After(stateDeadline) {
			t.Fatal("updated state was not reported")
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdown(a2)
}
