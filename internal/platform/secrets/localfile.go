package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// localFile serves secrets from a developer key=value file such as
//
//	secret://session_signing_key=dev-only-key
//	secret://database_dsn?version=2=postgres://...
//
// It is read once, on first use. A missing file is treated as empty.
type localFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func newLocalFile(path string) *localFile {
	return &localFile{path: strings.TrimSpace(path)}
}

// lookup prefers an entry for the exact version, then an unversioned one.
func (l *localFile) lookup(ref reference, version string) (string, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", l.err
	}
	if value, ok := l.values[versionedKey(ref.canonical, version)]; ok {
		return value, nil
	}
	if value, ok := l.values[ref.canonical]; ok {
		return value, nil
	}
	return "", fmt.Errorf("secrets: %s not present in %s", ref.canonical, l.describe())
}

func (l *localFile) load() {
	l.values = map[string]string{}
	if l.path == "" {
		return
	}
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		l.err = fmt.Errorf("secrets: open %s: %w", l.path, err)
		return
	}
	defer file.Close()
	if err := l.parse(file); err != nil {
		l.err = fmt.Errorf("secrets: read %s: %w", l.path, err)
	}
}

func (l *localFile) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitEntry(line)
		if !ok {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		version := ref.version
		if version == "" {
			version = latestVersion
		}
		l.values[ref.canonical] = value
		l.values[versionedKey(ref.canonical, version)] = value
	}
	return scanner.Err()
}

// splitEntry splits "REF=VALUE" where REF may carry a query (secret://db?version=2=...).
func splitEntry(line string) (string, string, bool) {
	first := strings.IndexByte(line, '=')
	if first <= 0 {
		return "", "", false
	}
	cut := first
	if q := strings.IndexByte(line, '?'); q >= 0 && q < first {
		// Walk the query: each parameter value ends at '&' (another parameter) or '=' (the value).
		for cut = q; ; {
			eq := strings.IndexByte(line[cut+1:], '=')
			if eq < 0 {
				return "", "", false
			}
			start := cut + 1 + eq + 1
			end := strings.IndexAny(line[start:], "&=")
			if end < 0 {
				return "", "", false
			}
			cut = start + end
			if line[cut] == '=' {
				break
			}
		}
	}
	key := strings.TrimSpace(line[:cut])
	return key, strings.TrimSpace(line[cut+1:]), key != ""
}

func (l *localFile) describe() string {
	if l.path == "" {
		return "local secrets (disabled)"
	}
	return l.path
}
