// Package dotenv merges KEY=VALUE pairs from .env files into the process
// environment.
package dotenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Load reads a dotenv file and sets every variable that is not already
// present in the environment. A missing file is a no-op so the file stays
// optional.
func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("dotenv: read %s: %w", path, err)
	}
	for _, v := range parse(string(data)) {
		if _, ok := os.LookupEnv(v.key); ok {
			continue
		}
		if err := os.Setenv(v.key, v.value); err != nil {
			return fmt.Errorf("dotenv: set %s: %w", v.key, err)
		}
	}
	return nil
}

type assignment struct {
	key   string
	value string
}

// parse extracts assignments, tolerating blank lines, # comments, CRLF
// endings, an optional "export " prefix and single or double quoted values.
func parse(content string) []assignment {
	var out []assignment
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out = append(out, assignment{key: key, value: unquote(strings.TrimSpace(value))})
	}
	return out
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}
