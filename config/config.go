package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Config holds configuration variables shared by the protocol and client
// packages.
type Config struct {
	// File is the path of a file from which configuration is read.
	File string `json:"config-file"`

	// Verbose prints debugging information.
	Verbose bool `json:"verbose"`

	// Host is the collector host:port.
	Host string `json:"host"`

	// Timeout determines how long to wait for a reply before failing an
	// in-flight call.
	Timeout time.Duration `json:"timeout"`

	// DialTimeout determines how long a connection attempt can take.
	DialTimeout time.Duration `json:"dial-timeout"`

	// MaxFrameSize defines the maximum allowed size for a single framed
	// message, in either direction.
	MaxFrameSize int `json:"max-frame-size"`

	// Category is the category used for entries that don't carry one.
	Category string `json:"category"`
}

// New returns a new configuration object
func New() *Config {
	c := &Config{}
	*c = *Default
	return c
}

func (c *Config) String() string {
	return fmt.Sprintf("%+v", *c)
}

// Validate returns an error pointing to incorrect values for the
// configuration, if any.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.MaxFrameSize <= 0 {
		return errors.New("max-frame-size must be > 0")
	}
	return nil
}

// Default is the default client config
var Default = &Config{
	Host:         "127.0.0.1:1463",
	Timeout:      10 * time.Second,
	DialTimeout:  10 * time.Second,
	MaxFrameSize: 1024 * 1024 * 16,
	Category:     "default",
}
