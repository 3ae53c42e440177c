package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/isseis/go-iast-weaver/internal/safefileio"
)

// FileReader reads configuration inputs.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

type safeReader struct{}

func (safeReader) ReadFile(path string) ([]byte, error) {
	return safefileio.SafeReadFile(path)
}

// Loader handles loading and validating configurations
type Loader struct {
	fs        FileReader
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading files through safefileio and the
// process environment.
func NewLoader() *Loader {
	return NewLoaderWithFS(safeReader{}, os.LookupEnv)
}

// NewLoaderWithFS creates a loader with a custom reader and environment.
func NewLoaderWithFS(fs FileReader, lookupEnv func(string) (string, bool)) *Loader {
	if lookupEnv == nil {
		lookupEnv = func(string) (string, bool) { return "", false }
	}
	return &Loader{fs: fs, lookupEnv: lookupEnv}
}

// Load reads the TOML file at configPath (optional) and the .env file at
// envPath (optional), then applies defaults, environment overrides and
// validation. Process variables win over the .env file.
func (l *Loader) Load(configPath, envPath string) (*Config, error) {
	var content []byte
	if configPath != "" {
		var err error
		content, err = l.fs.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	cfg, err := l.parse(content)
	if err != nil {
		return nil, err
	}

	fileEnv := map[string]string{}
	if envPath != "" {
		fileEnv, err = l.LoadEnvFile(envPath)
		if err != nil {
			return nil, err
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	slog.Debug("Configuration loaded",
		slog.String("config", configPath),
		slog.String("env_file", envPath),
		slog.Bool("apply_on_jit", cfg.Engine.IsApplyOnJIT()))
	return cfg, nil
}

// LoadConfig parses content, applies defaults and validates the result
// without consulting the environment.
func (l *Loader) LoadConfig(content []byte) (*Config, error) {
	cfg, err := l.parse(content)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) parse(content []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadEnvFile reads KEY=VALUE pairs from a .env file.
func (l *Loader) LoadEnvFile(path string) (map[string]string, error) {
	content, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	env, err := godotenv.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	return env, nil
}
