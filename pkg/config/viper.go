package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names an explicit config file, overriding the search path.
const FileEnv = "BLOG_CONFIG"

// Load reads configuration from a yaml file and environment variables.
// configPath is searched first, then the working directory and ./config.
// A missing config file is not an error; defaults and env vars still apply.
// Keys map to env vars as BLOG_SERVER_PORT for server.port.
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	if file := os.Getenv(FileEnv); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configPath)
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("BLOG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// Duration reads key as a Go duration string. Unparsable or empty values
// yield def.
func Duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return def
	}
	return d
}
