// Package config defines the server configuration surface and loads it from
// YAML or JSON files.
package config

import (
	"fmt"
	"strings"

	"github.com/getrestd/restd/pkg/interceptor"
	"github.com/getrestd/restd/pkg/schema"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// StorageConfig selects and parameterizes the storage backend. The backend
// is constructed once at startup; nothing re-dispatches on it per request.
type StorageConfig struct {
	// Driver is one of memory, file, sqlite. Defaults to memory.
	Driver string `yaml:"driver" json:"driver"`
	// Path is the data file for the file and sqlite drivers.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// LogConfig controls operational logging.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
	// Format is text or json.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Config is the full configuration surface of the server.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen" json:"listen"`

	// Resources, when non-empty, enables allow-listing: only the named
	// resources are served and everything else is a 404.
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`

	// APIPrefix scopes all resource routes under a path prefix, e.g. "api".
	APIPrefix string `yaml:"apiPrefix,omitempty" json:"apiPrefix,omitempty"`

	// StaticFolder serves files from this directory for requests outside
	// the API prefix.
	StaticFolder string `yaml:"staticFolder,omitempty" json:"staticFolder,omitempty"`

	// Storage selects the backend.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// CacheControl is the Cache-Control header value for GET/HEAD responses.
	CacheControl string `yaml:"cacheControl,omitempty" json:"cacheControl,omitempty"`

	// DelayMillis adds artificial latency to every request, for client
	// resilience testing.
	DelayMillis int `yaml:"delay,omitempty" json:"delay,omitempty"`

	// ReturnNullFields controls whether top-level null fields appear in
	// response bodies. Defaults to true.
	ReturnNullFields bool `yaml:"returnNullFields" json:"returnNullFields"`

	// AllowDeleteCollection enables DELETE on whole collections.
	AllowDeleteCollection bool `yaml:"allowDeleteCollection,omitempty" json:"allowDeleteCollection,omitempty"`

	// ETags enables optimistic concurrency control with entity tags.
	ETags bool `yaml:"etags,omitempty" json:"etags,omitempty"`

	// Schemas holds per-resource JSON Schemas for post/put/patch bodies.
	Schemas map[string]schema.ResourceSchemas `yaml:"schemas,omitempty" json:"schemas,omitempty"`

	// Interceptors declares expression-based request/response hooks.
	Interceptors interceptor.Expressions `yaml:"interceptors,omitempty" json:"interceptors,omitempty"`

	// Seed provides initial items per resource for the memory and file
	// drivers.
	Seed map[string][]map[string]any `yaml:"seed,omitempty" json:"seed,omitempty"`

	// Log controls operational logging.
	Log LogConfig `yaml:"log,omitempty" json:"log,omitempty"`
}

// Default returns the configuration defaults. Loaders unmarshal on top of
// this so absent fields keep their default values.
func Default() *Config {
	return &Config{
		Listen:           ":8080",
		Storage:          StorageConfig{Driver: DriverMemory},
		CacheControl:     "no-store",
		ReturnNullFields: true,
		Log:              LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the configuration for contradictions and normalizes the
// API prefix to a "/prefix" form (or "" when unset).
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage driver %q requires a path", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	c.APIPrefix = normalizePrefix(c.APIPrefix)

	if c.DelayMillis < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	return nil
}

// AllowedResources returns the lower-cased allow-list, or nil when
// allow-listing is disabled.
func (c *Config) AllowedResources() map[string]struct{} {
	if len(c.Resources) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(c.Resources))
	for _, r := range c.Resources {
		allowed[strings.ToLower(r)] = struct{}{}
	}
	return allowed
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
