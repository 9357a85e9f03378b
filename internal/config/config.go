package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Pipeline       string
	Endpoints      []string
	AuthToken      string
	Addresses      []string
	Schemas        []string
	FromBlock      uint64
	Window         uint64
	PollInterval   time.Duration
	RequestTimeout time.Duration
	ProgressEvery  uint64

	Sink         string
	PGDSN        string
	OutDir       string
	MaxAttempts  int
	WriteBackoff time.Duration

	CursorBackend string
	CursorPath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	StatusAddr string
	LogLevel   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("pipeline", "default")
	v.SetDefault("window", uint64(2000))
	v.SetDefault("poll-interval", 3*time.Second)
	v.SetDefault("request-timeout", 15*time.Second)
	v.SetDefault("progress-every", uint64(10000))
	v.SetDefault("sink", "jsonl")
	v.SetDefault("out-dir", "./data")
	v.SetDefault("max-attempts", 5)
	v.SetDefault("write-backoff", 500*time.Millisecond)
	v.SetDefault("cursor-backend", "file")
	v.SetDefault("cursor-path", "./data/cursor.json")
	v.SetDefault("redis-db", 0)
	v.SetDefault("reconnect-base", 500*time.Millisecond)
	v.SetDefault("reconnect-max", 2*time.Minute)
	v.SetDefault("status-addr", ":8080")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Pipeline:       v.GetString("pipeline"),
		Endpoints:      getStringSlice(v, "endpoint"),
		AuthToken:      v.GetString("auth-token"),
		Addresses:      getStringSlice(v, "address"),
		Schemas:        getStringSlice(v, "schema"),
		FromBlock:      v.GetUint64("from"),
		Window:         v.GetUint64("window"),
		PollInterval:   v.GetDuration("poll-interval"),
		RequestTimeout: v.GetDuration("request-timeout"),
		ProgressEvery:  v.GetUint64("progress-every"),
		Sink:           v.GetString("sink"),
		PGDSN:          v.GetString("pg-dsn"),
		OutDir:         v.GetString("out-dir"),
		MaxAttempts:    v.GetInt("max-attempts"),
		WriteBackoff:   v.GetDuration("write-backoff"),
		CursorBackend:  v.GetString("cursor-backend"),
		CursorPath:     v.GetString("cursor-path"),
		RedisAddr:      v.GetString("redis-addr"),
		RedisPassword:  v.GetString("redis-password"),
		RedisDB:        v.GetInt("redis-db"),
		ReconnectBase:  v.GetDuration("reconnect-base"),
		ReconnectMax:   v.GetDuration("reconnect-max"),
		StatusAddr:     v.GetString("status-addr"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot start with.
func (c Config) Validate() error {
	if c.Pipeline == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	if c.Window == 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1")
	}
	switch c.Sink {
	case "jsonl":
		if c.OutDir == "" {
			return fmt.Errorf("out-dir is required for the jsonl sink")
		}
	case "postgres":
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("unknown sink: %s", c.Sink)
	}
	switch c.CursorBackend {
	case "file":
		if c.CursorPath == "" {
			return fmt.Errorf("cursor-path is required for the file cursor backend")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr is required for the redis cursor backend")
		}
	default:
		return fmt.Errorf("unknown cursor backend: %s", c.CursorBackend)
	}
	return nil
}

// EndpointSpec is one parsed endpoint entry.
type EndpointSpec struct {
	Name string
	URL  string
}

// ParseEndpoints parses "name=url" entries; a bare URL gets a
// positional name.
func ParseEndpoints(inputs []string) ([]EndpointSpec, error) {
	specs := make([]EndpointSpec, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		var spec EndpointSpec
		if name, url, ok := strings.Cut(input, "="); ok && !strings.Contains(name, "/") {
			spec = EndpointSpec{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)}
		} else {
			spec = EndpointSpec{Name: fmt.Sprintf("endpoint-%d", i+1), URL: input}
		}
		if spec.Name == "" || spec.URL == "" {
			return nil, fmt.Errorf("invalid endpoint: %s", input)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint name: %s", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		specs = append(specs, spec)
	}
	return specs, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
