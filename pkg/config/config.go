// Package config reads the FHIR source configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/fhirgraph/pkg/fhir"
)

// DefaultPort is the RPC port used when the file does not set PORT.
const DefaultPort = 50051

// SourceConfig is the YAML document describing one FHIR server. The key
// names are shared with existing deployments and must not change.
type SourceConfig struct {
	API    string `yaml:"FHIR_API"`
	User   string `yaml:"FHIR_USER"`
	Pass   string `yaml:"FHIR_PW"`
	Cookie string `yaml:"FHIR_COOKIE"`
	Port   int    `yaml:"PORT"`
}

// Load reads and validates a source config file.
func Load(path string) (SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a source config document.
func Parse(data []byte) (SourceConfig, error) {
	var c SourceConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return SourceConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if err := c.Validate(); err != nil {
		return SourceConfig{}, err
	}
	if !strings.HasSuffix(c.API, "/") {
		c.API += "/"
	}
	return c, nil
}

// Validate checks that the config can produce a working client.
func (c SourceConfig) Validate() error {
	if strings.TrimSpace(c.API) == "" {
		return errors.New("FHIR_API is required")
	}
	u, err := url.Parse(c.API)
	if err != nil {
		return fmt.Errorf("invalid FHIR_API: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid FHIR_API %q: scheme must be http or https", c.API)
	}
	if (c.User == "") != (c.Pass == "") {
		return errors.New("FHIR_USER and FHIR_PW must be set together")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

// ListenAddr returns the RPC listen address derived from PORT.
func (c SourceConfig) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ClientOptions translates the credentials into FHIR client options. A
// session cookie takes precedence: basic auth is only sent without one.
func (c SourceConfig) ClientOptions() []fhir.Option {
	var opts []fhir.Option
	switch {
	case c.Cookie != "":
		opts = append(opts, fhir.WithSessionCookie(c.Cookie))
	case c.User != "":
		opts = append(opts, fhir.WithBasicAuth(c.User, c.Pass))
	}
	return opts
}

// NewClient builds a FHIR client from the config plus any extra options.
func (c SourceConfig) NewClient(extra ...fhir.Option) (*fhir.Client, error) {
	return fhir.NewClient(c.API, append(c.ClientOptions(), extra...)...)
}
