package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved pqbench configuration. Values come from defaults,
// then a .env file, then the process environment, then command-line flags.
type Config struct {
	Algorithms  []string
	Operations  []string
	Iterations  int
	Warmup      int
	CVThreshold float64
	Timeout     time.Duration
	Parallelism int
	Output      string
	Format      string
	Probe       string
	Provider    string
	LogFormat   string
	LogLevel    string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Iterations:  100,
		Warmup:      10,
		CVThreshold: 0.25,
		Timeout:     5 * time.Second,
		Format:      "jsonl",
		Probe:       "heap",
		Provider:    "circl",
		LogFormat:   "text",
		LogLevel:    "warn",
	}
}

// LoadConfig applies the dotenv file at path (ignored when missing) and the
// environment over the defaults. Environment variables win over the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	fileEnv := map[string]string{}
	if path != "" {
		m, err := godotenv.Read(path)
		switch {
		case err == nil:
			fileEnv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	return cfg, cfg.applyEnv(lookup)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PQBENCH_ALGORITHMS"); ok {
		c.Algorithms = splitList(v)
	}
	if v, ok := lookup("PQBENCH_OPERATIONS"); ok {
		c.Operations = splitList(v)
	}
	if v, ok := lookup("PQBENCH_ITERATIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PQBENCH_ITERATIONS: %w", err)
		}
		c.Iterations = n
	}
	if v, ok := lookup("PQBENCH_WARMUP"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PQBENCH_WARMUP: %w", err)
		}
		c.Warmup = n
	}
	if v, ok := lookup("PQBENCH_CV_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PQBENCH_CV_THRESHOLD: %w", err)
		}
		c.CVThreshold = f
	}
	if v, ok := lookup("PQBENCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PQBENCH_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v, ok := lookup("PQBENCH_PARALLELISM"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PQBENCH_PARALLELISM: %w", err)
		}
		c.Parallelism = n
	}
	if v, ok := lookup("PQBENCH_OUTPUT"); ok {
		c.Output = v
	}
	if v, ok := lookup("PQBENCH_FORMAT"); ok {
		c.Format = v
	}
	if v, ok := lookup("PQBENCH_PROBE"); ok {
		c.Probe = v
	}
	if v, ok := lookup("PQBENCH_PROVIDER"); ok {
		c.Provider = v
	}
	if v, ok := lookup("PQBENCH_LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("PQBENCH_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

// Validate checks the configuration before any work is done.
func (c *Config) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("warmup must not be negative, got %d", c.Warmup)
	}
	if c.CVThreshold <= 0 {
		return fmt.Errorf("cv threshold must be positive, got %g", c.CVThreshold)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.Provider != "circl" {
		return fmt.Errorf("unknown provider %q (available: circl)", c.Provider)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Logger builds the process logger on stderr.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
