//go:build property
// +build property

package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

// TestConfigurationProperties tests configuration loading and validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ports validate iff in range", prop.ForAll(
		func(port int) bool {
			v := viper.New()
			v.Set("server.port", port)
			_, err := LoadFrom(v)
			return (err == nil) == (port >= 0 && port <= 65535)
		},
		gen.IntRange(-1000, 70000),
	))

	properties.Property("watch port may not shadow the server port", prop.ForAll(
		func(port int) bool {
			v := viper.New()
			v.Set("server.port", port)
			v.Set("watch.enabled", true)
			v.Set("watch.port", port)
			_, err := LoadFrom(v)
			return err != nil
		},
		gen.IntRange(1, 65535),
	))

	properties.Property("unknown log levels are rejected", prop.ForAll(
		func(level string) bool {
			v := viper.New()
			v.Set("log.level", "x"+level)
			_, err := LoadFrom(v)
			return err != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
