package env

import (
	"os"
	"path/filepath"
	"strings"
)

// Pair is one KEY=VALUE entry of a .env file, in file order.
type Pair struct {
	Key   string
	Value string
}

// ParseDotEnv reads simple .env content: KEY=VALUE lines, no export
// keyword and no quote handling. Blank lines and lines starting with '#'
// are skipped. The value is everything after the first '='. Both sides are
// trimmed.
func ParseDotEnv(content string) []Pair {
	var out []Pair
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i < 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		if k == "" {
			continue
		}
		out = append(out, Pair{Key: k, Value: strings.TrimSpace(line[i+1:])})
	}
	return out
}

// LoadDotEnvFile parses the .env file at path into "K=V" entries.
func LoadDotEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	pairs := ParseDotEnv(string(b))
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Key+"="+p.Value)
	}
	return out, nil
}
