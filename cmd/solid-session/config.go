package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/gematik/solid-session/pkg/store"
	"github.com/gematik/solid-session/pkg/util"
	"github.com/go-playground/validator/v10"
	"github.com/valkey-io/valkey-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultRedirectURI = "http://127.0.0.1:8089/callback"
	defaultClientName  = "solid-session"
)

type Config struct {
	IdP         string      `yaml:"idp" validate:"omitempty,url"`
	RedirectURI string      `yaml:"redirect_uri" validate:"required,url"`
	ClientName  string      `yaml:"client_name"`
	Scopes      []string    `yaml:"scopes"`
	Store       StoreConfig `yaml:"store"`
}

type StoreConfig struct {
	Type      string          `yaml:"type" validate:"required,oneof=file sqlite valkey firestore"`
	Path      string          `yaml:"path" validate:"required_if=Type file"`
	DSN       string          `yaml:"dsn" validate:"required_if=Type sqlite"`
	Valkey    ValkeyConfig    `yaml:"valkey"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

type ValkeyConfig struct {
	Address  string            `yaml:"address"`
	Username string            `yaml:"username"`
	Password util.SecretString `yaml:"password"`
	Prefix   string            `yaml:"prefix"`
	TTL      time.Duration     `yaml:"ttl"`
}

type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

func defaultConfig() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		RedirectURI: defaultRedirectURI,
		ClientName:  defaultClientName,
		Store: StoreConfig{
			Type: "file",
			Path: filepath.Join(dir, "solid-session", "session.cbor"),
			Valkey: ValkeyConfig{
				Prefix: "solid-session:",
			},
			Firestore: FirestoreConfig{
				Collection: "solid-sessions",
			},
		},
	}
}

// LoadConfig reads the YAML file at path, expanding environment variables.
// An empty path yields the defaults. SOLID_SESSION_IDP overrides the idp.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(content))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	if idp := os.Getenv("SOLID_SESSION_IDP"); idp != "" {
		cfg.IdP = idp
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	switch cfg.Store.Type {
	case "valkey":
		if cfg.Store.Valkey.Address == "" {
			return nil, errors.New("validate config: store.valkey.address is required")
		}
	case "firestore":
		if cfg.Store.Firestore.ProjectID == "" {
			return nil, errors.New("validate config: store.firestore.project_id is required")
		}
	}

	return cfg, nil
}

// CallbackAddress is the host:port the redirect URI points to.
func (c *Config) CallbackAddress() (string, string, error) {
	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return "", "", fmt.Errorf("parse redirect_uri: %w", err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect_uri must use http on a local address, got %s", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

// OpenStore returns the configured store and a function releasing it.
func (c *Config) OpenStore(ctx context.Context) (store.Store, func(), error) {
	noop := func() {}

	switch c.Store.Type {
	case "file":
		s, err := store.NewFileStore(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(c.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "valkey":
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{c.Store.Valkey.Address},
			Username:    c.Store.Valkey.Username,
			Password:    c.Store.Valkey.Password.Value(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to valkey: %w", err)
		}
		return store.NewValkeyStore(client, c.Store.Valkey.Prefix, c.Store.Valkey.TTL), client.Close, nil
	case "firestore":
		s, err := store.NewFirestoreStore(ctx, c.Store.Firestore.ProjectID, c.Store.Firestore.Database, c.Store.Firestore.Collection)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store type %q", c.Store.Type)
	}
}
