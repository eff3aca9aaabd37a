//go:build dev

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv reads ENV_FILE, or .env when unset. Variables already present in
// the environment keep their values.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
