package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix namespaces environment overrides: EPG_SYNC_WORK_DIR sets
// work_dir, EPG_SYNC_SOURCE__UK__URLS sets source.uk.urls.
const EnvPrefix = "EPG_SYNC_"

// LoadFile reads a TOML config file into the flat map and overlays the
// environment on top, so an env var always beats the file. A missing file
// with a non-empty environment is fine; the caller decides whether the
// resulting map is sufficient via FromMap.
func LoadFile(path string) (map[string]string, error) {
	flat := map[string]string{}
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
			}
		} else {
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
			}
			flatten("", doc, flat)
		}
	}
	overlayEnviron(flat)
	return flat, nil
}

// flatten turns nested TOML tables into dotted keys; lists become
// comma-joined strings so the whole document reduces to flat strings.
func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, scalarString(e))
		}
		out[prefix] = strings.Join(parts, ",")
	default:
		out[prefix] = scalarString(v)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// overlayEnviron applies EPG_SYNC_* variables onto the flat map. A double
// underscore in the variable name maps to a dot in the key.
func overlayEnviron(flat map[string]string) {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		name := kv[len(EnvPrefix):eq]
		key := strings.ToLower(strings.ReplaceAll(name, "__", "."))
		flat[key] = kv[eq+1:]
	}
}

// LoadEnvFile reads path and sets environment variables for each "KEY=value"
// line. Skips blanks and # comments; a missing file is not an error. Call
// before LoadFile so the variables take part in the overlay.
func LoadEnvFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := unquoteEnv(strings.TrimSpace(line[idx+1:]))
		if key == "" {
			continue
		}
		os.Setenv(key, value)
	}
	return sc.Err()
}

func unquoteEnv(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// LoadFavourites reads the favourites file: one channel name per line,
// "alias = canonical" lines declare aliases, blanks and # comments skipped.
func LoadFavourites(path string) (names []string, aliases map[string]string, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: favourites %s: %v", ErrConfig, path, err)
	}
	defer f.Close()

	aliases = map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			alias := strings.TrimSpace(line[:idx])
			canonical := strings.TrimSpace(line[idx+1:])
			if alias != "" && canonical != "" {
				aliases[alias] = canonical
			}
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: favourites %s: %v", ErrConfig, path, err)
	}
	return names, aliases, nil
}
