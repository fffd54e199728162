// Package config loads the harness configuration: realm and client
// identities, service endpoints, the event bus and wait timing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/go-itest/pkg/auth"
	"github.com/downfa11-org/go-itest/pkg/bus"
	"github.com/downfa11-org/go-itest/pkg/urlify"
	"github.com/downfa11-org/go-itest/pkg/waiter"
	"github.com/downfa11-org/go-itest/util"
)

// Defaults of the local test realm and compose environment.
const (
	DefaultSSOEndpoint      = "http://localhost:8090/realms/chicken"
	DefaultClientSecret     = "R8A6KFeyxJsMDBhjfHbpZTIF0GWt43HP"
	DefaultStorageEndpoint  = "http://localhost:9000"
	DefaultKafkaBootstrap   = "localhost:9092"
	DefaultCursusBroker     = "localhost:9000"
	DefaultFrontendClientID = "frontend"
	DefaultUserClientID     = "testing-user"
	DefaultManagerClientID  = "testing-manager"
	DefaultTimeout          = 30 * time.Second
)

const envConfigPath = "ITEST_CONFIG"

// Config is the harness configuration.
type Config struct {
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// Identity provider
	SSOEndpoint      string `yaml:"sso_endpoint" json:"sso.endpoint"`
	FrontendClientID string `yaml:"frontend_client_id" json:"frontend.client_id"`
	UserClientID     string `yaml:"user_client_id" json:"user.client_id"`
	ManagerClientID  string `yaml:"manager_client_id" json:"manager.client_id"`
	ClientSecret     string `yaml:"client_secret" json:"client.secret"`

	// Services under test, by name.
	StorageEndpoint string            `yaml:"storage_endpoint" json:"storage.endpoint"`
	Services        map[string]string `yaml:"services" json:"services"`

	Bus bus.Config `yaml:"bus" json:"bus"`

	// Waiting
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default.timeout"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll.interval"`
	ConsumerName   string        `yaml:"consumer_name" json:"consumer.name"`

	// Exporter for long-running CLI waits.
	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int  `yaml:"exporter_port" json:"exporter.port"`
}

// Load reads path (or $ITEST_CONFIG when empty), applies ITEST_* environment
// overrides and fills defaults. With neither a path nor the variable set it
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{LogLevel: util.LogLevelInfo}

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}

// UnmarshalJSON accepts "30s" style strings for the duration fields, like YAML.
func (cfg *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		DefaultTimeout util.JSONDuration `json:"default.timeout"`
		PollInterval   util.JSONDuration `json:"poll.interval"`
	}{
		plain:          (*plain)(cfg),
		DefaultTimeout: util.JSONDuration(cfg.DefaultTimeout),
		PollInterval:   util.JSONDuration(cfg.PollInterval),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg.DefaultTimeout = time.Duration(aux.DefaultTimeout)
	cfg.PollInterval = time.Duration(aux.PollInterval)
	return nil
}

func (cfg *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ManagerCredentials identifies the manager test client.
func (cfg *Config) ManagerCredentials() auth.ClientCredentialsConfig {
	return auth.ClientCredentialsConfig{
		IssuerURL:    cfg.SSOEndpoint,
		ClientID:     cfg.ManagerClientID,
		ClientSecret: cfg.ClientSecret,
	}
}

// UserCredentials identifies the regular-user test client.
func (cfg *Config) UserCredentials() auth.ClientCredentialsConfig {
	return auth.ClientCredentialsConfig{
		IssuerURL:    cfg.SSOEndpoint,
		ClientID:     cfg.UserClientID,
		ClientSecret: cfg.ClientSecret,
	}
}

// AuthContext builds token providers for both test identities.
func (cfg *Config) AuthContext() (auth.Context, error) {
	user, err := auth.NewClientCredentials(cfg.UserCredentials())
	if err != nil {
		return auth.Context{}, fmt.Errorf("user provider: %w", err)
	}
	manager, err := auth.NewClientCredentials(cfg.ManagerCredentials())
	if err != nil {
		return auth.Context{}, fmt.Errorf("manager provider: %w", err)
	}
	return auth.Context{User: user, Manager: manager}, nil
}

// Service returns the base URL of a named service. "storage" falls back to
// StorageEndpoint.
func (cfg *Config) Service(name string) (urlify.Base, error) {
	raw, ok := cfg.Services[strings.ToLower(name)]
	if !ok && strings.EqualFold(name, "storage") {
		raw, ok = cfg.StorageEndpoint, true
	}
	if !ok {
		return urlify.Base{}, fmt.Errorf("no endpoint configured for service %q", name)
	}
	return urlify.Parse(raw)
}

// NewWaiter returns an event waiter over the configured bus.
func (cfg *Config) NewWaiter(opts ...waiter.Option) *waiter.Waiter {
	base := []waiter.Option{
		waiter.WithConsumer(cfg.ConsumerName),
		waiter.WithPollInterval(cfg.PollInterval),
	}
	return waiter.New(cfg.Bus, append(base, opts...)...)
}
