package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadMapPool reads a draft map pool from a plain text file: one map name per
// line, blank lines and #-comments ignored. The file is re-read on change by
// the application's pool watcher, so a malformed pool never replaces a good
// one here; the caller decides.
func LoadMapPool(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read map pool at %s: %w", path, err)
	}
	defer f.Close()

	var (
		pool []string
		seen = make(map[string]bool)
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Inline comments after the map name
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		pool = append(pool, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read map pool at %s: %w", path, err)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("map pool at %s is empty", path)
	}
	return pool, nil
}
