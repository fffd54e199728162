package e2e

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/downfa11-org/go-itest/pkg/auth"
	"github.com/downfa11-org/go-itest/pkg/bus"
	"github.com/downfa11-org/go-itest/pkg/config"
	"github.com/downfa11-org/go-itest/pkg/httpassert"
	"github.com/downfa11-org/go-itest/pkg/urlify"
	"github.com/downfa11-org/go-itest/pkg/waiter"
	"github.com/downfa11-org/go-itest/util"
)

const managerToken = "e2e-manager-token"

// TestContext carries state across the Given/When/Then phases of a scenario.
type TestContext struct {
	t        *testing.T
	cfg      *config.Config
	broker   *bus.MemoryBroker
	platform *platform
	server   *httptest.Server
	service  urlify.Base
	auth     auth.Context
	asserter *httpassert.Asserter
	waiter   *waiter.Waiter

	timeout   time.Duration
	startTime time.Time

	id       string
	waitErr  error
	body     any
	hasBody  bool
	fetchErr error
}

type Actions struct {
	ctx *TestContext
}

type Consequences struct {
	ctx *TestContext
}

func Given(t *testing.T) *TestContext {
	broker := bus.NewMemoryBroker()
	p := newPlatform(broker, managerToken)
	srv := startPlatform(p)

	cfg := &config.Config{
		SSOEndpoint:  srv.URL + "/realms/chicken",
		Services:     map[string]string{"platform": srv.URL + "/api/v1/"},
		Bus:          bus.Config{Type: bus.TypeMemory},
		PollInterval: 20 * time.Millisecond,
	}
	cfg.Normalize()
	cfg.Bus.Memory = broker

	return &TestContext{
		t:         t,
		cfg:       cfg,
		broker:    broker,
		platform:  p,
		server:    srv,
		timeout:   2 * time.Second,
		startTime: time.Now(),
	}
}

func (c *TestContext) WithEventDelay(d time.Duration) *TestContext {
	c.platform.delay = d
	return c
}

func (c *TestContext) WithTimeout(d time.Duration) *TestContext {
	c.timeout = d
	return c
}

func (c *TestContext) WithStructuredEvents() *TestContext {
	c.platform.structured = true
	return c
}

func (c *TestContext) When() *Actions {
	c.t.Helper()

	service, err := c.cfg.Service("platform")
	if err != nil {
		c.t.Fatalf("platform service: %v", err)
	}
	c.service = service

	if c.auth, err = c.cfg.AuthContext(); err != nil {
		c.t.Fatalf("auth context: %v", err)
	}
	c.asserter = httpassert.New(c.auth.Manager)
	c.waiter = c.cfg.NewWaiter()

	util.Debug("scenario ready against %s", c.server.URL)
	return &Actions{ctx: c}
}

func (c *TestContext) Cleanup() {
	c.server.Close()
}

func (a *Actions) Then() *Consequences {
	return &Consequences{ctx: a.ctx}
}
