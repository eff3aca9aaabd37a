package config

import "fmt"

// LoadFromEnv loads the process environment, preceded by a dotenv file in
// dev builds.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return Load(FromEnviron())
}
