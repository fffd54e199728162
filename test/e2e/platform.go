package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/go-itest/pkg/bus"
	"github.com/downfa11-org/go-itest/util"
)

const (
	resourceTopic = "resource-stored"
	resourcePath  = "/api/v1/resource/"
	tokenPath     = "/realms/chicken/protocol/openid-connect/token"
)

// platform is an in-process stand-in for a service under test: it stores
// uploaded resources and announces each one on the bus after a delay.
type platform struct {
	broker *bus.MemoryBroker
	delay  time.Duration
	// structured selects JSON event payloads instead of the bare key.
	structured bool
	token      string

	mu        sync.Mutex
	resources map[string]json.RawMessage
}

func newPlatform(broker *bus.MemoryBroker, token string) *platform {
	return &platform{broker: broker, token: token, resources: make(map[string]json.RawMessage)}
}

func (p *platform) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, p.issueToken)
	mux.HandleFunc(resourcePath, p.resource)
	return mux
}

func (p *platform) issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": p.token,
		"token_type":   "bearer",
		"expires_in":   300,
	})
}

func (p *platform) resource(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+p.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, resourcePath)
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var doc json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.resources[id] = doc
		p.mu.Unlock()

		go p.announce(id)
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		p.mu.Lock()
		doc, ok := p.resources[id]
		p.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *platform) announce(id string) {
	time.Sleep(p.delay)
	key := "default/" + id
	payload := []byte(key)
	if p.structured {
		payload = []byte(fmt.Sprintf(`{"key":%q,"type":"stored"}`, key))
	}
	p.broker.Publish(resourceTopic, payload)
	util.Debug("platform announced %s", key)
}

func startPlatform(p *platform) *httptest.Server {
	return httptest.NewServer(p.handler())
}
