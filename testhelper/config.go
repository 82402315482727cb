package testhelper

import (
	"time"

	"github.com/scribelog/scribec/config"
)

// TestConfig returns a config suitable for tests
func TestConfig(verbose bool) *config.Config {
	conf := config.New()
	conf.Verbose = verbose
	conf.Host = "127.0.0.1:1463"
	conf.Timeout = 2 * time.Second
	conf.DialTimeout = 2 * time.Second
	conf.MaxFrameSize = 1024 * 64

	return conf
}
