package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Environment variables holding the Peloton account credentials.
const (
	EnvUsername = "PELOTON_USERNAME"
	EnvPassword = "PELOTON_PASSWORD"

	// EnvFileOverride names an env file to load ahead of the defaults.
	EnvFileOverride = "PELOTON_ENV_FILE"
)

// defaultEnvFiles are loaded from the working directory when present.
var defaultEnvFiles = []string{".env", ".envfile"}

// Credentials holds the Peloton account username and password for one client
// instance. The values are opaque and must never be logged.
type Credentials struct {
	Username string
	Password string
}

// MissingCredentialsError reports which credential variables were absent from
// the environment.
type MissingCredentialsError struct {
	Missing []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing required credential(s): %s. Set them in the environment or an env file",
		strings.Join(e.Missing, ", "))
}

// LoadEnvFiles loads environment variables from env files without overriding
// values already present in the process environment. The PELOTON_ENV_FILE
// variable, explicitly passed paths, and the default file names are tried in
// that order; each existing file is loaded at most once.
func LoadEnvFiles(extra ...string) {
	var candidates []string
	if override := os.Getenv(EnvFileOverride); override != "" {
		candidates = append(candidates, override)
	}
	candidates = append(candidates, extra...)
	candidates = append(candidates, defaultEnvFiles...)

	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		path, err := filepath.Abs(candidate)
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		if _, err = os.Stat(path); err != nil {
			continue
		}
		if err = godotenv.Load(path); err != nil {
			log.Warnf("failed to load env file %s: %v", path, err)
		}
	}
}

// CredentialsFromEnv resolves the Peloton credentials from the environment.
// It returns a MissingCredentialsError naming every absent variable.
func CredentialsFromEnv() (Credentials, error) {
	username := os.Getenv(EnvUsername)
	password := os.Getenv(EnvPassword)

	var missing []string
	if username == "" {
		missing = append(missing, EnvUsername)
	}
	if password == "" {
		missing = append(missing, EnvPassword)
	}
	if len(missing) > 0 {
		return Credentials{}, &MissingCredentialsError{Missing: missing}
	}
	return Credentials{Username: username, Password: password}, nil
}
