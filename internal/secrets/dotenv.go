package secrets

import (
	"fmt"
	"os"
	"strings"
)

// SetEntry writes or replaces a KEY=VALUE line in a .env file, leaving
// comments, blank lines and the order of other entries untouched. A new
// key is appended at the end.
func SetEntry(path, key, value string) error {
	lines, err := readLines(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read dotenv: %w", err)
	}

	entry := key + "=" + quote(value)

	replaced := false
	for i, line := range lines {
		if keyOf(line) == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	return writeLines(path, lines)
}

// RemoveEntry deletes a KEY=VALUE line from a .env file, preserving
// everything else. Removing a missing key is not an error.
func RemoveEntry(path, key string) error {
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dotenv: %w", err)
	}

	kept := lines[:0]
	for _, line := range lines {
		if keyOf(line) != key {
			kept = append(kept, line)
		}
	}

	return writeLines(path, kept)
}

// keyOf returns the key of a KEY=VALUE line, or "" for comments and blanks.
func keyOf(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(k)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1] // trailing newline artifact
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// quote wraps v in double quotes when it would not survive a plain
// KEY=VALUE line unescaped.
func quote(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}
