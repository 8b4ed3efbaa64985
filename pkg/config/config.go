package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/slurm"
)

const (
	DefaultConfigPath = "/etc/scitex"
	ConfigFileName    = "scitex.yml"
)

// Partition describes a SLURM partition the gateway may submit to.
type Partition struct {
	Name    string `yaml:"name" json:"name"`
	MaxTime string `yaml:"max_time" json:"max_time"`
}

// TaskRoute maps a task name pattern to a queue and an optional rate limit
// such as "10/m".
type TaskRoute struct {
	Pattern   string `yaml:"pattern" json:"pattern"`
	Queue     string `yaml:"queue" json:"queue"`
	RateLimit string `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// Config holds all gateway configuration settings
type Config struct {
	// SlurmNodeCPUs is the number of CPUs on a compute node; requests above it are rejected
	SlurmNodeCPUs int `yaml:"slurm_node_cpus" json:"slurm_node_cpus"`

	// SlurmMaxMemoryGB is the largest memory request accepted
	SlurmMaxMemoryGB int `yaml:"slurm_max_memory_gb" json:"slurm_max_memory_gb"`

	// SlurmPartitions lists the partitions with their maximum wall time
	SlurmPartitions []Partition `yaml:"slurm_partitions" json:"slurm_partitions"`

	// SlurmDefaultPartition is used when a request names no partition
	SlurmDefaultPartition string `yaml:"slurm_default_partition" json:"slurm_default_partition"`

	// SlurmBinDir holds sbatch, squeue, sacct and scancel; empty means $PATH
	SlurmBinDir string `yaml:"slurm_bin_dir" json:"slurm_bin_dir"`

	// MaxJobsPerUser is the number of jobs a user may run at once; further jobs stay pending
	MaxJobsPerUser int `yaml:"max_jobs_per_user" json:"max_jobs_per_user"`

	// MaxSubmitPerUser is the number of active jobs after which submissions are refused
	MaxSubmitPerUser int `yaml:"max_submit_per_user" json:"max_submit_per_user"`

	// ApptainerBin is the container runtime binary
	ApptainerBin string `yaml:"apptainer_bin" json:"apptainer_bin"`

	// ContainerDir is where container images are looked up when given by name
	ContainerDir string `yaml:"container_dir" json:"container_dir"`

	// WorkspaceRoot confines user workspaces
	WorkspaceRoot string `yaml:"workspace_root" json:"workspace_root"`

	// MaxOutputBytes caps the bytes of job output returned by the API
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes"`

	// AsyncMaxCPUs, AsyncMaxMemoryGB and AsyncMaxTime bound the jobs that run
	// on the task workers instead of SLURM
	AsyncMaxCPUs     int    `yaml:"async_max_cpus" json:"async_max_cpus"`
	AsyncMaxMemoryGB int    `yaml:"async_max_memory_gb" json:"async_max_memory_gb"`
	AsyncMaxTime     string `yaml:"async_max_time" json:"async_max_time"`

	// BrokerURL is the task broker; "memory://" runs an in-process broker
	BrokerURL string `yaml:"broker_url" json:"broker_url"`

	// DefaultQueue receives tasks that match no route
	DefaultQueue string `yaml:"default_queue" json:"default_queue"`

	// TaskRoutes is the ordered routing table, first match wins
	TaskRoutes []TaskRoute `yaml:"task_routes" json:"task_routes"`

	// ResultTTL is how long task results are kept, in seconds
	ResultTTL int `yaml:"result_ttl" json:"result_ttl"`

	// GiteaURL and GiteaToken address the Gitea admin API
	GiteaURL   string `yaml:"gitea_url" json:"gitea_url"`
	GiteaToken string `yaml:"gitea_token" json:"-"`

	// JWTSecret signs API access tokens
	JWTSecret string `yaml:"jwt_secret" json:"-"`

	// TokenTTL is the access token lifetime in seconds
	TokenTTL int `yaml:"token_ttl" json:"token_ttl"`

	// PollInterval is the SLURM status refresh interval in seconds
	PollInterval int `yaml:"poll_interval" json:"poll_interval"`

	// LogLevel and LogFormat configure logrus
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Authenticators lists the enabled authentication methods
	Authenticators []string `yaml:"authenticators" json:"authenticators"`

	// AuditEnabled turns the audit log on or off
	AuditEnabled bool `yaml:"audit_enabled" json:"audit_enabled"`

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			globalConfig = newDefault()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// Reload reloads the configuration from file and environment
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// Set replaces the global configuration.
func Set(cfg *Config) {
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}

// Default returns a config holding only default values.
func Default() *Config {
	return newDefault()
}

func newDefault() *Config {
	return &Config{
		SlurmNodeCPUs:    32,
		SlurmMaxMemoryGB: 128,
		SlurmPartitions: []Partition{
			{Name: "express", MaxTime: "01:00:00"},
			{Name: "normal", MaxTime: "1-00:00:00"},
			{Name: "long", MaxTime: "7-00:00:00"},
		},
		SlurmDefaultPartition: "normal",
		MaxJobsPerUser:        4,
		MaxSubmitPerUser:      20,
		ApptainerBin:          "apptainer",
		ContainerDir:          "/opt/scitex/containers",
		WorkspaceRoot:         "/var/lib/scitex/workspaces",
		MaxOutputBytes:        1 << 20,
		AsyncMaxCPUs:          1,
		AsyncMaxMemoryGB:      2,
		AsyncMaxTime:          "00:10:00",
		BrokerURL:             "redis://localhost:6379/0",
		DefaultQueue:          "default",
		TaskRoutes: []TaskRoute{
			{Pattern: "writer.ai_suggest", Queue: "ai", RateLimit: "10/m"},
			{Pattern: "scholar.search_papers", Queue: "search", RateLimit: "30/m"},
			{Pattern: "writer.compile_latex", Queue: "latex"},
			{Pattern: "code.run_script", Queue: "compute_light"},
			{Pattern: "gitea.*", Queue: "sync"},
		},
		ResultTTL:    86400,
		TokenTTL:     3600,
		PollInterval: 15,
		LogLevel:       "info",
		LogFormat:      "text",
		Authenticators: []string{identity.MethodAPIKey, identity.MethodToken},
		AuditEnabled:   true,
		sources:        make(map[string]string),
	}
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over file values.
func Load() (*Config, error) {
	config := newDefault()

	for _, name := range attributeNames() {
		config.sources[name] = "default"
	}

	configPath := os.Getenv("SCITEX_CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config.configFilePath = filepath.Join(configPath, ConfigFileName)

	if data, err := os.ReadFile(config.configFilePath); err == nil {
		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", config.configFilePath, err)
		}
		var keys map[string]yaml.Node
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", config.configFilePath, err)
		}
		present := make(map[string]bool, len(keys))
		for k := range keys {
			present[k] = true
		}
		config.applyFileConfig(&fileConfig, present)
	}

	config.applyEnvConfig(os.Environ())

	return config, nil
}

func attributeNames() []string {
	return []string{
		"slurm_node_cpus", "slurm_max_memory_gb", "slurm_partitions",
		"slurm_default_partition", "slurm_bin_dir", "max_jobs_per_user",
		"max_submit_per_user", "apptainer_bin", "container_dir", "workspace_root",
		"max_output_bytes", "async_max_cpus", "async_max_memory_gb", "async_max_time",
		"broker_url", "default_queue", "task_routes", "result_ttl", "gitea_url",
		"gitea_token", "jwt_secret", "token_ttl", "poll_interval", "log_level", "log_format",
		"authenticators", "audit_enabled",
	}
}

// applyFileConfig copies the values set in the file. Numbers are taken
// whenever their key is present, so an explicit 0 overrides a default.
func (c *Config) applyFileConfig(file *Config, present map[string]bool) {
	setInt := func(name string, dst *int, v int) {
		if v != 0 || present[name] {
			*dst = v
			c.sources[name] = "file"
		}
	}
	setString := func(name string, dst *string, v string) {
		if v != "" {
			*dst = v
			c.sources[name] = "file"
		}
	}

	setInt("slurm_node_cpus", &c.SlurmNodeCPUs, file.SlurmNodeCPUs)
	setInt("slurm_max_memory_gb", &c.SlurmMaxMemoryGB, file.SlurmMaxMemoryGB)
	if len(file.SlurmPartitions) > 0 {
		c.SlurmPartitions = file.SlurmPartitions
		c.sources["slurm_partitions"] = "file"
	}
	setString("slurm_default_partition", &c.SlurmDefaultPartition, file.SlurmDefaultPartition)
	setString("slurm_bin_dir", &c.SlurmBinDir, file.SlurmBinDir)
	setInt("max_jobs_per_user", &c.MaxJobsPerUser, file.MaxJobsPerUser)
	setInt("max_submit_per_user", &c.MaxSubmitPerUser, file.MaxSubmitPerUser)
	setString("apptainer_bin", &c.ApptainerBin, file.ApptainerBin)
	setString("container_dir", &c.ContainerDir, file.ContainerDir)
	setString("workspace_root", &c.WorkspaceRoot, file.WorkspaceRoot)
	if file.MaxOutputBytes != 0 || present["max_output_bytes"] {
		c.MaxOutputBytes = file.MaxOutputBytes
		c.sources["max_output_bytes"] = "file"
	}
	setInt("async_max_cpus", &c.AsyncMaxCPUs, file.AsyncMaxCPUs)
	setInt("async_max_memory_gb", &c.AsyncMaxMemoryGB, file.AsyncMaxMemoryGB)
	setString("async_max_time", &c.AsyncMaxTime, file.AsyncMaxTime)
	setString("broker_url", &c.BrokerURL, file.BrokerURL)
	setString("default_queue", &c.DefaultQueue, file.DefaultQueue)
	if len(file.TaskRoutes) > 0 {
		c.TaskRoutes = file.TaskRoutes
		c.sources["task_routes"] = "file"
	}
	setInt("result_ttl", &c.ResultTTL, file.ResultTTL)
	setString("gitea_url", &c.GiteaURL, file.GiteaURL)
	setString("gitea_token", &c.GiteaToken, file.GiteaToken)
	setString("jwt_secret", &c.JWTSecret, file.JWTSecret)
	setInt("token_ttl", &c.TokenTTL, file.TokenTTL)
	setInt("poll_interval", &c.PollInterval, file.PollInterval)
	setString("log_level", &c.LogLevel, file.LogLevel)
	setString("log_format", &c.LogFormat, file.LogFormat)
	if len(file.Authenticators) > 0 {
		c.Authenticators = file.Authenticators
		c.sources["authenticators"] = "file"
	}
	if present["audit_enabled"] {
		c.AuditEnabled = file.AuditEnabled
		c.sources["audit_enabled"] = "file"
	}
}

var partitionTimeEnv = regexp.MustCompile(`^SLURM_PARTITION_([A-Z0-9_]+)_TIME$`)

func (c *Config) applyEnvConfig(environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	envInt := func(key, name string, dst *int) {
		if val := env[key]; val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				*dst = i
				c.sources[name] = "environment"
			}
		}
	}
	envString := func(key, name string, dst *string) {
		if val := env[key]; val != "" {
			*dst = val
			c.sources[name] = "environment"
		}
	}

	envInt("SLURM_NODE_CPUS", "slurm_node_cpus", &c.SlurmNodeCPUs)
	envInt("SLURM_MAX_MEMORY_GB", "slurm_max_memory_gb", &c.SlurmMaxMemoryGB)
	envString("SLURM_DEFAULT_PARTITION", "slurm_default_partition", &c.SlurmDefaultPartition)
	envString("SLURM_BIN_DIR", "slurm_bin_dir", &c.SlurmBinDir)
	envInt("SLURM_MAX_JOBS_PER_USER", "max_jobs_per_user", &c.MaxJobsPerUser)
	envInt("SLURM_MAX_SUBMIT_PER_USER", "max_submit_per_user", &c.MaxSubmitPerUser)
	envString("SCITEX_APPTAINER_BIN", "apptainer_bin", &c.ApptainerBin)
	envString("SCITEX_CONTAINER_DIR", "container_dir", &c.ContainerDir)
	envString("SCITEX_WORKSPACE_ROOT", "workspace_root", &c.WorkspaceRoot)
	if val := env["SCITEX_MAX_OUTPUT_BYTES"]; val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.MaxOutputBytes = i
			c.sources["max_output_bytes"] = "environment"
		}
	}
	envInt("SCITEX_ASYNC_MAX_CPUS", "async_max_cpus", &c.AsyncMaxCPUs)
	envInt("SCITEX_ASYNC_MAX_MEMORY_GB", "async_max_memory_gb", &c.AsyncMaxMemoryGB)
	envString("SCITEX_ASYNC_MAX_TIME", "async_max_time", &c.AsyncMaxTime)
	envString("CELERY_BROKER_URL", "broker_url", &c.BrokerURL)
	envString("SCITEX_DEFAULT_QUEUE", "default_queue", &c.DefaultQueue)
	envInt("SCITEX_RESULT_TTL", "result_ttl", &c.ResultTTL)
	envString("GITEA_URL", "gitea_url", &c.GiteaURL)
	envString("GITEA_TOKEN", "gitea_token", &c.GiteaToken)
	envString("SCITEX_JWT_SECRET", "jwt_secret", &c.JWTSecret)
	envInt("SCITEX_TOKEN_TTL", "token_ttl", &c.TokenTTL)
	envInt("SCITEX_POLL_INTERVAL", "poll_interval", &c.PollInterval)
	envString("SCITEX_LOG_LEVEL", "log_level", &c.LogLevel)
	envString("SCITEX_LOG_FORMAT", "log_format", &c.LogFormat)
	if val := env["SCITEX_AUTHENTICATORS"]; val != "" {
		c.Authenticators = splitAndTrim(val)
		c.sources["authenticators"] = "environment"
	}
	if val := env["SCITEX_AUDIT_ENABLED"]; val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.AuditEnabled = b
			c.sources["audit_enabled"] = "environment"
		}
	}

	// SLURM_PARTITION_<NAME>_TIME overrides or adds a partition
	keys := make([]string, 0)
	for k := range env {
		if partitionTimeEnv.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		val := env[k]
		if val == "" {
			continue
		}
		name := strings.ToLower(partitionTimeEnv.FindStringSubmatch(k)[1])
		c.setPartitionTime(name, val)
		c.sources["slurm_partitions"] = "environment"
	}
}

func (c *Config) setPartitionTime(name, maxTime string) {
	partitions := make([]Partition, len(c.SlurmPartitions))
	copy(partitions, c.SlurmPartitions)
	for i := range partitions {
		if partitions[i].Name == name {
			partitions[i].MaxTime = maxTime
			c.SlurmPartitions = partitions
			return
		}
	}
	c.SlurmPartitions = append(partitions, Partition{Name: name, MaxTime: maxTime})
}

// ConfigFilePath returns the path to the config file
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}

// Source returns the source of a configuration attribute
func (c *Config) Source(name string) string {
	if c.sources == nil {
		return "default"
	}
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

// PartitionLimits returns the maximum wall time of every partition.
func (c *Config) PartitionLimits() (map[string]time.Duration, error) {
	limits := make(map[string]time.Duration, len(c.SlurmPartitions))
	for _, p := range c.SlurmPartitions {
		d, err := slurm.ParseTimeLimit(p.MaxTime)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Name, err)
		}
		limits[p.Name] = d
	}
	return limits, nil
}

// AsyncMaxDuration returns AsyncMaxTime as a duration.
func (c *Config) AsyncMaxDuration() time.Duration {
	d, err := slurm.ParseTimeLimit(c.AsyncMaxTime)
	if err != nil {
		return 0
	}
	return d
}

// TokenLifetime returns the access token TTL as a duration
func (c *Config) TokenLifetime() time.Duration {
	return time.Duration(c.TokenTTL) * time.Second
}

// PollEvery returns the SLURM poll interval as a duration
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SlurmNodeCPUs <= 0 {
		return fmt.Errorf("slurm_node_cpus must be positive, got %d", c.SlurmNodeCPUs)
	}
	if c.SlurmMaxMemoryGB <= 0 {
		return fmt.Errorf("slurm_max_memory_gb must be positive, got %d", c.SlurmMaxMemoryGB)
	}
	if len(c.SlurmPartitions) == 0 {
		return fmt.Errorf("at least one slurm partition is required")
	}
	limits, err := c.PartitionLimits()
	if err != nil {
		return err
	}
	if _, ok := limits[c.SlurmDefaultPartition]; !ok {
		return fmt.Errorf("default partition %q is not configured", c.SlurmDefaultPartition)
	}
	if c.MaxJobsPerUser < 0 || c.MaxSubmitPerUser < 0 {
		return fmt.Errorf("per-user job limits must not be negative")
	}
	if _, err := slurm.ParseTimeLimit(c.AsyncMaxTime); err != nil {
		return fmt.Errorf("async_max_time: %w", err)
	}
	if c.DefaultQueue == "" {
		return fmt.Errorf("default_queue must not be empty")
	}
	for _, r := range c.TaskRoutes {
		if r.Pattern == "" || r.Queue == "" {
			return fmt.Errorf("task route needs both pattern and queue: %+v", r)
		}
		if _, err := filepath.Match(r.Pattern, ""); err != nil {
			return fmt.Errorf("task route pattern %q: %w", r.Pattern, err)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s", c.LogFormat)
	}
	if len(c.Authenticators) == 0 {
		return fmt.Errorf("at least one authenticator must be enabled")
	}
	for _, a := range c.Authenticators {
		if a != identity.MethodAPIKey && a != identity.MethodToken {
			return fmt.Errorf("unknown authenticator %q", a)
		}
	}
	return nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Attributes returns all configuration attributes with their values and sources
func (c *Config) Attributes() []Attribute {
	partitions := make([]string, 0, len(c.SlurmPartitions))
	for _, p := range c.SlurmPartitions {
		partitions = append(partitions, p.Name+"="+p.MaxTime)
	}
	routes := make([]string, 0, len(c.TaskRoutes))
	for _, r := range c.TaskRoutes {
		s := r.Pattern + "->" + r.Queue
		if r.RateLimit != "" {
			s += "@" + r.RateLimit
		}
		routes = append(routes, s)
	}
	masked := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}

	return []Attribute{
		{Name: "slurm_node_cpus", Value: strconv.Itoa(c.SlurmNodeCPUs), Source: c.Source("slurm_node_cpus")},
		{Name: "slurm_max_memory_gb", Value: strconv.Itoa(c.SlurmMaxMemoryGB), Source: c.Source("slurm_max_memory_gb")},
		{Name: "slurm_partitions", Value: strings.Join(partitions, ","), Source: c.Source("slurm_partitions")},
		{Name: "slurm_default_partition", Value: c.SlurmDefaultPartition, Source: c.Source("slurm_default_partition")},
		{Name: "slurm_bin_dir", Value: c.SlurmBinDir, Source: c.Source("slurm_bin_dir")},
		{Name: "max_jobs_per_user", Value: strconv.Itoa(c.MaxJobsPerUser), Source: c.Source("max_jobs_per_user")},
		{Name: "max_submit_per_user", Value: strconv.Itoa(c.MaxSubmitPerUser), Source: c.Source("max_submit_per_user")},
		{Name: "apptainer_bin", Value: c.ApptainerBin, Source: c.Source("apptainer_bin")},
		{Name: "container_dir", Value: c.ContainerDir, Source: c.Source("container_dir")},
		{Name: "workspace_root", Value: c.WorkspaceRoot, Source: c.Source("workspace_root")},
		{Name: "max_output_bytes", Value: strconv.FormatInt(c.MaxOutputBytes, 10), Source: c.Source("max_output_bytes")},
		{Name: "async_max_cpus", Value: strconv.Itoa(c.AsyncMaxCPUs), Source: c.Source("async_max_cpus")},
		{Name: "async_max_memory_gb", Value: strconv.Itoa(c.AsyncMaxMemoryGB), Source: c.Source("async_max_memory_gb")},
		{Name: "async_max_time", Value: c.AsyncMaxTime, Source: c.Source("async_max_time")},
		{Name: "broker_url", Value: c.BrokerURL, Source: c.Source("broker_url")},
		{Name: "default_queue", Value: c.DefaultQueue, Source: c.Source("default_queue")},
		{Name: "task_routes", Value: strings.Join(routes, ","), Source: c.Source("task_routes")},
		{Name: "result_ttl", Value: strconv.Itoa(c.ResultTTL), Source: c.Source("result_ttl")},
		{Name: "gitea_url", Value: c.GiteaURL, Source: c.Source("gitea_url")},
		{Name: "gitea_token", Value: masked(c.GiteaToken), Source: c.Source("gitea_token")},
		{Name: "jwt_secret", Value: masked(c.JWTSecret), Source: c.Source("jwt_secret")},
		{Name: "token_ttl", Value: strconv.Itoa(c.TokenTTL), Source: c.Source("token_ttl")},
		{Name: "poll_interval", Value: strconv.Itoa(c.PollInterval), Source: c.Source("poll_interval")},
		{Name: "log_level", Value: c.LogLevel, Source: c.Source("log_level")},
		{Name: "log_format", Value: c.LogFormat, Source: c.Source("log_format")},
		{Name: "authenticators", Value: strings.Join(c.Authenticators, ","), Source: c.Source("authenticators")},
		{Name: "audit_enabled", Value: strconv.FormatBool(c.AuditEnabled), Source: c.Source("audit_enabled")},
	}
}

// FormatText returns a text representation of the configuration
func (c *Config) FormatText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Config file: %s\n\n", c.configFilePath))
	sb.WriteString(fmt.Sprintf("%-28s %-50s %s\n", "NAME", "VALUE", "SOURCE"))
	sb.WriteString(fmt.Sprintf("%-28s %-50s %s\n", "----", "-----", "------"))

	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		sb.WriteString(fmt.Sprintf("%-28s %-50s %s\n", attr.Name, value, attr.Source))
	}
	return sb.String()
}

// FormatJSON returns a JSON representation of the configuration
func (c *Config) FormatJSON() (string, error) {
	result := map[string]interface{}{
		"config_file": c.configFilePath,
		"attributes":  c.Attributes(),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
