package config

import (
	"os"
	"strings"
	"time"

	"github.com/downfa11-org/go-itest/pkg/bus"
	"github.com/downfa11-org/go-itest/pkg/waiter"
	"github.com/downfa11-org/go-itest/util"
)

const servicePrefix = "ITEST_SERVICE_"

func (cfg *Config) Normalize() {
	// identity provider
	if strings.TrimSpace(cfg.SSOEndpoint) == "" {
		cfg.SSOEndpoint = DefaultSSOEndpoint
	}
	if cfg.FrontendClientID == "" {
		cfg.FrontendClientID = DefaultFrontendClientID
	}
	if cfg.UserClientID == "" {
		cfg.UserClientID = DefaultUserClientID
	}
	if cfg.ManagerClientID == "" {
		cfg.ManagerClientID = DefaultManagerClientID
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = DefaultClientSecret
	}

	// services
	if strings.TrimSpace(cfg.StorageEndpoint) == "" {
		cfg.StorageEndpoint = DefaultStorageEndpoint
	}
	if cfg.Services == nil {
		cfg.Services = map[string]string{}
	}
	for name, u := range cfg.Services {
		if lower := strings.ToLower(name); lower != name {
			delete(cfg.Services, name)
			cfg.Services[lower] = u
		}
	}

	// bus
	cfg.Bus.Type = bus.Type(strings.ToLower(strings.TrimSpace(string(cfg.Bus.Type))))
	switch cfg.Bus.Type {
	case "":
		cfg.Bus.Type = bus.TypeKafka
	case bus.TypeKafka, bus.TypeCursus, bus.TypeMemory:
	default:
		util.Warn("Invalid bus type '%s', defaulting to 'kafka'", cfg.Bus.Type)
		cfg.Bus.Type = bus.TypeKafka
	}
	if cfg.Bus.Type == bus.TypeKafka && len(cfg.Bus.BootstrapServers) == 0 {
		cfg.Bus.BootstrapServers = []string{DefaultKafkaBootstrap}
	}
	if cfg.Bus.Type == bus.TypeCursus && len(cfg.Bus.Brokers) == 0 {
		cfg.Bus.Brokers = []string{DefaultCursusBroker}
	}
	if _, err := util.ParseCompression(cfg.Bus.Compression); err != nil {
		util.Warn("Invalid bus compression '%s', defaulting to 'none'", cfg.Bus.Compression)
		cfg.Bus.Compression = string(util.CompressionNone)
	}
	if cfg.Bus.PollWait < 0 {
		cfg.Bus.PollWait = 0
	}

	// waiting
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = waiter.DefaultPollInterval
	}
	if cfg.PollInterval > cfg.DefaultTimeout {
		util.Warn("poll_interval (%v) exceeds default_timeout (%v), adjusting to a tenth of the timeout",
			cfg.PollInterval, cfg.DefaultTimeout)
		cfg.PollInterval = cfg.DefaultTimeout / 10
	}
	if strings.TrimSpace(cfg.ConsumerName) == "" {
		cfg.ConsumerName = waiter.DefaultConsumer
	}

	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ITEST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}

	overrideEnvString(&cfg.SSOEndpoint, "ITEST_SSO_ENDPOINT")
	overrideEnvString(&cfg.ClientSecret, "ITEST_CLIENT_SECRET")
	overrideEnvString(&cfg.UserClientID, "ITEST_USER_CLIENT_ID")
	overrideEnvString(&cfg.ManagerClientID, "ITEST_MANAGER_CLIENT_ID")
	overrideEnvString(&cfg.StorageEndpoint, "ITEST_STORAGE_ENDPOINT")

	if v := os.Getenv("ITEST_BUS_TYPE"); v != "" {
		cfg.Bus.Type = bus.Type(v)
	}
	overrideEnvStringSlice(&cfg.Bus.BootstrapServers, "ITEST_KAFKA_BOOTSTRAP_SERVERS")
	overrideEnvStringSlice(&cfg.Bus.Brokers, "ITEST_CURSUS_BROKERS")
	overrideEnvString(&cfg.Bus.Compression, "ITEST_BUS_COMPRESSION")

	overrideEnvDuration(&cfg.DefaultTimeout, "ITEST_DEFAULT_TIMEOUT")
	overrideEnvDuration(&cfg.PollInterval, "ITEST_POLL_INTERVAL")
	overrideEnvString(&cfg.ConsumerName, "ITEST_CONSUMER_NAME")

	overrideEnvBool(&cfg.EnableExporter, "ITEST_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "ITEST_EXPORTER_PORT")

	// ITEST_SERVICE_SPOG_API=http://... registers service "spog_api"
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, servicePrefix) || val == "" {
			continue
		}
		if cfg.Services == nil {
			cfg.Services = map[string]string{}
		}
		cfg.Services[strings.ToLower(strings.TrimPrefix(key, servicePrefix))] = val
	}
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseDuration(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideEnvStringSlice(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseCSV(v)
	}
}
