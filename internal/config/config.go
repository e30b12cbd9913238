// Package config provides typed configuration for vaultrelay: paths,
// intervals, the backend routing table, and the ambient logging/notify
// settings layered on top of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendKind distinguishes hosted (API, session-based, rate-limited) from
// local (daemon-based, no sessions) backends.
type BackendKind string

const (
	BackendHosted BackendKind = "api"
	BackendLocal  BackendKind = "local"
)

// Backend describes one entry in the backend routing table.
type Backend struct {
	Name        string      `yaml:"name"`
	Kind        BackendKind `yaml:"type"`
	Command     string      `yaml:"command"`
	MaxParallel int         `yaml:"max_parallel"`
	InvokerPath string      `yaml:"invoker,omitempty"`
	Flags       []string    `yaml:"flags,omitempty"`
	Model       string      `yaml:"model,omitempty"`
	Endpoint    string      `yaml:"endpoint,omitempty"`
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	VaultTasksDir      string        `yaml:"vault_tasks_dir"`
	StateDir           string        `yaml:"state_dir"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	StabilityTimeout   time.Duration `yaml:"stability_timeout"`
	DefaultMaxTurns    int           `yaml:"default_max_turns"`
	InotifySettleDelay time.Duration `yaml:"inotify_settle_delay"`
	SchedulerCycle     time.Duration `yaml:"scheduler_cycle"`
	DefaultComplexity  int           `yaml:"default_complexity"`
	DryRun             bool          `yaml:"dry_run"`
	ContinuationLimit  int           `yaml:"continuation_limit"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	MaxRestarts        int           `yaml:"max_restarts"`
	RestartWindow      time.Duration `yaml:"restart_window"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	LogLevel           string        `yaml:"log_level"`
	LogJSON            bool          `yaml:"log_json"`
	NotifyCommand      string        `yaml:"notify_command"`
	Backends           []Backend     `yaml:"backends"`
}

// DefaultConfig returns the built-in defaults from spec.md §6, plus the
// two worked-example backends (ollama local, claude hosted).
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		VaultTasksDir:      filepath.Join(home, "vault", "tasks"),
		StateDir:           filepath.Join(home, ".claude-task-system"),
		PollInterval:       30 * time.Second,
		StabilityTimeout:   300 * time.Second,
		DefaultMaxTurns:    10,
		InotifySettleDelay: 2 * time.Second,
		SchedulerCycle:     2 * time.Second,
		DefaultComplexity:  3,
		DryRun:             false,
		ContinuationLimit:  5,
		MonitorInterval:    5 * time.Second,
		MaxRestarts:        5,
		RestartWindow:      300 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		LogLevel:           "info",
		LogJSON:            false,
		NotifyCommand:      "",
		Backends: []Backend{
			{Name: "ollama", Kind: BackendLocal, Command: "ollama", MaxParallel: 2, InvokerPath: "local"},
			{Name: "claude", Kind: BackendHosted, Command: "claude", MaxParallel: 1, InvokerPath: "hosted"},
		},
	}
}

// Load reads a YAML config file (if present) over the defaults, then
// applies environment variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if envBackends := backendsFromEnv(); len(envBackends) > 0 {
		cfg.Backends = envBackends
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a config with an unusable path or empty backend table.
func (c *Config) Validate() error {
	if c.VaultTasksDir == "" {
		return fmt.Errorf("vault_tasks_dir must not be empty")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must not be empty")
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend entry missing name")
		}
		if b.Kind != BackendHosted && b.Kind != BackendLocal {
			return fmt.Errorf("backend %s: invalid type %q", b.Name, b.Kind)
		}
		if b.MaxParallel <= 0 {
			return fmt.Errorf("backend %s: max_parallel must be positive", b.Name)
		}
	}
	return nil
}

// Backend looks up a backend by name.
func (c *Config) Backend(name string) (Backend, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.VaultTasksDir, "VAULT_TASKS_DIR")
	setString(&cfg.StateDir, "STATE_DIR")
	setDuration(&cfg.PollInterval, "POLL_INTERVAL")
	setDuration(&cfg.StabilityTimeout, "STABILITY_TIMEOUT")
	setInt(&cfg.DefaultMaxTurns, "DEFAULT_MAX_TURNS")
	setDuration(&cfg.InotifySettleDelay, "INOTIFY_SETTLE_DELAY")
	setDuration(&cfg.SchedulerCycle, "SCHEDULER_CYCLE")
	setInt(&cfg.DefaultComplexity, "DEFAULT_COMPLEXITY")
	if v, ok := os.LookupEnv("DRY_RUN"); ok {
		cfg.DryRun = v != "" && v != "0" && strings.ToLower(v) != "false"
	}
}

// setString overrides *dst with the environment variable named key when
// it is set and non-empty.
func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

// backendsFromEnv discovers LLM_<NAME>_{TYPE,MAX_PARALLEL,COMMAND,FLAGS,
// MODEL,ENDPOINT,INVOKER} environment variables and assembles a backend
// table from them, per spec.md §6. Returns nil if no such variables are
// set, leaving the YAML/default table in place.
func backendsFromEnv() []Backend {
	const prefix = "LLM_"
	fields := map[string]map[string]string{}

	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		rest := strings.TrimPrefix(parts[0], prefix)
		idx := lastFieldIndex(rest)
		if idx < 0 {
			continue
		}
		name := strings.ToLower(rest[:idx])
		field := rest[idx+1:]
		if name == "" {
			continue
		}
		if fields[name] == nil {
			fields[name] = map[string]string{}
		}
		fields[name][field] = parts[1]
	}

	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		f := fields[name]
		b := Backend{
			Name:        name,
			Kind:        BackendKind(strings.ToLower(f["TYPE"])),
			Command:     f["COMMAND"],
			MaxParallel: 1,
			InvokerPath: f["INVOKER"],
			Model:       f["MODEL"],
			Endpoint:    f["ENDPOINT"],
		}
		if b.Kind == "" {
			b.Kind = BackendHosted
		}
		if mp, err := strconv.Atoi(f["MAX_PARALLEL"]); err == nil && mp > 0 {
			b.MaxParallel = mp
		}
		if f["FLAGS"] != "" {
			b.Flags = strings.Fields(f["FLAGS"])
		}
		backends = append(backends, b)
	}
	return backends
}

// lastFieldIndex finds the underscore separating "<NAME>" from the known
// field suffix in an LLM_<NAME>_<FIELD> variable name.
func lastFieldIndex(rest string) int {
	knownFields := []string{
		"TYPE", "MAX_PARALLEL", "COMMAND", "FLAGS", "MODEL", "ENDPOINT", "INVOKER",
	}
	for _, f := range knownFields {
		suffix := "_" + f
		if strings.HasSuffix(rest, suffix) {
			return len(rest) - len(suffix)
		}
	}
	return -1
}
