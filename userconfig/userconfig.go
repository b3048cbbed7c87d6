// Package userconfig turns user-supplied YAML into a validated
// backend.Settings. The rest of the application never reads
// configuration files itself; it receives Settings from here.
package userconfig

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/units"
	"github.com/ptgott/mailroom/backend"

	yaml "gopkg.in/yaml.v2"
)

// Messages above this size are almost certainly a mistake, so it's the
// cap we apply when the user doesn't configure one.
const defaultMaxMessageSize = "25MiB"

// Meta represents all current config options that the application can
// use, i.e., after validation and parsing.
type Meta struct {
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig represents delivery options provided by the user. Not
// meant to be used for sending email without validation; call
// CheckAndSetDefaults to get a usable backend.Settings.
type BackendConfig struct {
	Kind         string `yaml:"kind"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	UseTLS       bool   `yaml:"useTLS"`
	SkipVerify   bool   `yaml:"skipCertVerification"`
	Dir          string `yaml:"dir"`
	FromAddress  string `yaml:"fromAddress"`
	FailSilently bool   `yaml:"failSilently"`

	// Timeout is a Go duration string, e.g. "30s".
	Timeout string `yaml:"timeout"`

	// MaxMessageSize is a human-readable byte count, e.g. "25MiB".
	MaxMessageSize string `yaml:"maxMessageSize"`
}

// CheckAndSetDefaults validates c and either returns the
// backend.Settings it describes with default settings applied or
// returns an error due to an invalid configuration.
func (c *BackendConfig) CheckAndSetDefaults() (backend.Settings, error) {
	s := backend.Settings{
		Host:         c.Host,
		Port:         c.Port,
		Username:     c.Username,
		Password:     c.Password,
		UseTLS:       c.UseTLS,
		SkipVerify:   c.SkipVerify,
		Dir:          c.Dir,
		DefaultFrom:  c.FromAddress,
		FailSilently: c.FailSilently,
	}

	kind := c.Kind
	if kind == "" {
		kind = string(backend.KindSMTP)
	}
	s.Kind = backend.Kind(kind)

	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return backend.Settings{}, fmt.Errorf(
				"can't parse the user-provided timeout as a duration: %v",
				err,
			)
		}
		s.Timeout = d
	}

	ms := c.MaxMessageSize
	if ms == "" {
		ms = defaultMaxMessageSize
	}
	n, err := units.ParseStrictBytes(ms)
	if err != nil {
		return backend.Settings{}, fmt.Errorf(
			"can't parse the user-provided max message size: %v",
			err,
		)
	}
	s.MaxMessageSize = n

	// backend.New validates the kind-specific settings, so surface its
	// complaints at config time rather than at first use.
	if _, err := backend.New(s); err != nil {
		return backend.Settings{}, err
	}

	return s, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m's
// validated backend settings or returns an error due to an invalid
// configuration.
func (m *Meta) CheckAndSetDefaults() (backend.Settings, error) {
	return m.Backend.CheckAndSetDefaults()
}

// Parse generates usable configurations from possibly arbitrary user
// input. An error indicates a problem with parsing or validation.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	var bc BackendConfig = BackendConfig{}
	if m.Backend == bc {
		return &Meta{}, errors.New("must include a \"backend\" section")
	}

	return &m, nil
}
