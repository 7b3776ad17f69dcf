package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each flag name to its configuration key so flags take
// precedence over the environment and config file.
func bindFlags(flags *pflag.FlagSet, bindings map[string]string) {
	for flagName, configKey := range bindings {
		flag := flags.Lookup(flagName)
		if flag == nil {
			panic(fmt.Sprintf("binding unknown flag %q", flagName))
		}
		if err := viper.BindPFlag(configKey, flag); err != nil {
			panic(fmt.Sprintf("binding flag %q: %v", flagName, err))
		}
	}
}
