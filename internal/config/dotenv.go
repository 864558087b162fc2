package config

import (
	"os"
	"strings"
)

// LoadDotenv loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is silently ignored.
func LoadDotenv(path string) error {
	return applyDotenv(path, false)
}

// ReloadDotenv re-reads a .env file and overrides already-set variables.
// Used by the reloader so freshly written secrets take effect without a
// restart.
func ReloadDotenv(path string) error {
	return applyDotenv(path, true)
}

func applyDotenv(path string, override bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for line := range strings.Lines(string(data)) {
		key, value, ok := parseDotenvLine(line)
		if !ok {
			continue
		}
		if !override {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
		}
		os.Setenv(key, value)
	}
	return nil
}

// parseDotenvLine splits a KEY=VALUE line, dropping comments, blanks and
// surrounding quotes on the value.
func parseDotenvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	for _, q := range []byte{'"', '\''} {
		if len(value) >= 2 && value[0] == q && value[len(value)-1] == q {
			value = value[1 : len(value)-1]
			break
		}
	}
	return key, value, key != ""
}
