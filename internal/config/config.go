package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerPort  string
	ServerHost  string
	MetricsPort string

	// Redis (routing-sync serialization and audit stream)
	RedisURL          string
	AuditStream       string
	AuditStreamMaxLen int64

	// Kubernetes configuration
	K8sInCluster      bool
	K8sKubeConfigPath string

	// Provisioner timing
	NamespaceActiveTimeout    time.Duration
	NamespacePollInterval     time.Duration
	QuotaRetryAttempts        int
	QuotaRetryDelay           time.Duration
	ServiceVisibilityAttempts int
	ServiceVisibilityDelay    time.Duration

	// Routing synchronizer
	RoutingHostname    string
	IngressClass       string
	ProxyImage         string
	WorkspacePort      int32
	RoutingListRetries int
	RoutingListDelay   time.Duration
	RoutingLockTTL     time.Duration

	// Capacity planner unit size (quantity strings)
	WorkspaceUnitCPU    string
	WorkspaceUnitMemory string

	// Exec bridge
	ExecCommand     string
	ExecOpenTimeout time.Duration

	// HTTP server timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Application metadata
	AppName    string
	AppVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		ServerHost:  getEnv("SERVER_HOST", "0.0.0.0"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),

		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AuditStream:       getEnv("AUDIT_STREAM", "workspace:audit"),
		AuditStreamMaxLen: int64(getEnvInt("AUDIT_STREAM_MAX_LEN", 10000)),

		K8sInCluster:      getEnvBool("K8S_IN_CLUSTER", false),
		K8sKubeConfigPath: getEnv("K8S_KUBECONFIG_PATH", ""),

		NamespaceActiveTimeout:    getEnvDuration("NAMESPACE_ACTIVE_TIMEOUT", 60*time.Second),
		NamespacePollInterval:     getEnvDuration("NAMESPACE_POLL_INTERVAL", 2*time.Second),
		QuotaRetryAttempts:        getEnvInt("QUOTA_RETRY_ATTEMPTS", 5),
		QuotaRetryDelay:           getEnvDuration("QUOTA_RETRY_DELAY", 2*time.Second),
		ServiceVisibilityAttempts: getEnvInt("SERVICE_VISIBILITY_ATTEMPTS", 10),
		ServiceVisibilityDelay:    getEnvDuration("SERVICE_VISIBILITY_DELAY", time.Second),

		RoutingHostname:    getEnv("ROUTING_HOSTNAME", "workspaces.example.com"),
		IngressClass:       getEnv("INGRESS_CLASS", "nginx"),
		ProxyImage:         getEnv("PROXY_IMAGE", "nginx:1.25-alpine"),
		WorkspacePort:      int32(getEnvInt("WORKSPACE_PORT", 8080)),
		RoutingListRetries: getEnvInt("ROUTING_LIST_RETRIES", 5),
		RoutingListDelay:   getEnvDuration("ROUTING_LIST_DELAY", 2*time.Second),
		RoutingLockTTL:     getEnvDuration("ROUTING_LOCK_TTL", 30*time.Second),

		WorkspaceUnitCPU:    getEnv("WORKSPACE_UNIT_CPU", "2"),
		WorkspaceUnitMemory: getEnv("WORKSPACE_UNIT_MEMORY", "4Gi"),

		ExecCommand:     getEnv("EXEC_COMMAND", "/bin/bash"),
		ExecOpenTimeout: getEnvDuration("EXEC_OPEN_TIMEOUT", 10*time.Second),

		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AppName:    "workspace-orchestrator",
		AppVersion: getEnv("APP_VERSION", "dev"),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.LogLevel)
	}

	if c.WorkspacePort <= 0 {
		return fmt.Errorf("invalid workspace port: %d", c.WorkspacePort)
	}

	if c.QuotaRetryAttempts < 1 {
		return fmt.Errorf("QUOTA_RETRY_ATTEMPTS must be at least 1")
	}
	if c.RoutingListRetries < 1 {
		return fmt.Errorf("ROUTING_LIST_RETRIES must be at least 1")
	}

	return nil
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return c.ServerHost + ":" + c.ServerPort
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return defaultVal
		}
		return b
	}
	return defaultVal
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal
		}
		return i
	}
	return defaultVal
}

// getEnvDuration retrieves a duration environment variable (e.g. "30s") or
// returns a default value
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return defaultVal
		}
		return d
	}
	return defaultVal
}
