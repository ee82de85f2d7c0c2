// Package config initializes the application's configuration. It uses Viper
// to read settings from a config file, environment variables and
// command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	internalcfg "github.com/JakeFAU/sitemirror/internal/config"
)

// InitConfig prepares v with defaults, search paths and environment
// overrides, then reads the config file. An explicit file must exist; a
// missing file on the search paths is not an error. It returns the file that
// was read, or "" when running on defaults and environment alone.
func InitConfig(v *viper.Viper, file string) (string, error) {
	internalcfg.SetDefaults(v)
	internalcfg.BindEnv(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sitemirror")
		v.AddConfigPath("/etc/sitemirror/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
