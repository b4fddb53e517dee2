// Package config builds the immutable run configuration. The pipeline core
// consumes a flat key→value map; the loaders in this package (TOML file,
// .env file, environment) all reduce to that map, so adding a storage format
// never touches the core.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrConfig marks configuration errors; the CLI maps it to its own exit code.
var ErrConfig = errors.New("config: invalid configuration")

// Source is one named source group. Lower Priority wins on conflicts.
type Source struct {
	Name     string
	Kind     string // "playlist" or "guide"
	Priority int
	URLs     []string
}

// Config is constructed once per run and never mutated after FromMap.
type Config struct {
	WorkDir   string // scratch directory, required
	TargetDir string // deployment directory; empty disables the publish stage

	Sources []Source // sorted by (priority, name)

	Favourites     []string          // inline favourites list
	FavouritesFile string            // one name per line, "alias = canonical" for aliases
	AliasesFile    string            // manual matcher overrides CSV
	MatchCacheFile string            // sqlite match cache; "off" disables
	FavAliases     map[string]string // alias -> canonical, from inline config

	PlaylistOut string // matched playlist filename
	GuideOut    string // consolidated guide filename, ".gz" enables compression

	FuzzyEnabled     bool
	FuzzyThreshold   float64
	GuideHorizonDays int

	FetchConcurrency int
	FetchTimeout     time.Duration
	RetryAttempts    int
	RetryBackoff     time.Duration

	LogLevel string
	LogFile  string
}

// FromMap validates the flat map and builds a Config. Unknown keys are an
// error so a typo fails loudly instead of silently using a default.
func FromMap(m map[string]string) (*Config, error) {
	c := &Config{
		PlaylistOut:      "matched.m3u",
		GuideOut:         "guide_matched.xml.gz",
		FuzzyEnabled:     true,
		FuzzyThreshold:   0.60,
		FetchConcurrency: 4,
		FetchTimeout:     60 * time.Second,
		RetryAttempts:    3,
		RetryBackoff:     2 * time.Second,
		LogLevel:         "info",
		FavAliases:       map[string]string{},
	}
	sources := map[string]*Source{}

	for _, key := range sortedKeys(m) {
		val := strings.TrimSpace(m[key])
		if strings.HasPrefix(key, "source.") {
			if err := applySourceKey(sources, key, val); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(key, "favourite_alias.") {
			alias := strings.TrimPrefix(key, "favourite_alias.")
			c.FavAliases[alias] = val
			continue
		}
		if err := applyKey(c, key, val); err != nil {
			return nil, err
		}
	}

	for _, s := range sources {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("%w: source %q has no urls", ErrConfig, s.Name)
		}
		switch s.Kind {
		case "playlist", "guide":
		case "":
			s.Kind = "playlist"
		default:
			return nil, fmt.Errorf("%w: source %q kind %q (want playlist or guide)", ErrConfig, s.Name, s.Kind)
		}
		c.Sources = append(c.Sources, *s)
	}
	sort.Slice(c.Sources, func(i, j int) bool {
		if c.Sources[i].Priority != c.Sources[j].Priority {
			return c.Sources[i].Priority < c.Sources[j].Priority
		}
		return c.Sources[i].Name < c.Sources[j].Name
	})

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("%w: work_dir is required", ErrConfig)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: at least one source group is required", ErrConfig)
	}
	if len(c.Favourites) == 0 && c.FavouritesFile == "" {
		return fmt.Errorf("%w: favourites or favourites_file is required", ErrConfig)
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("%w: fuzzy_threshold %v out of (0,1]", ErrConfig, c.FuzzyThreshold)
	}
	return nil
}

// GroupPriority returns source name → priority rank for the matcher.
func (c *Config) GroupPriority() map[string]int {
	out := make(map[string]int, len(c.Sources))
	for _, s := range c.Sources {
		out[s.Name] = s.Priority
	}
	return out
}

// GuideWanted reports whether any guide source is configured.
func (c *Config) GuideWanted() bool {
	for _, s := range c.Sources {
		if s.Kind == "guide" {
			return true
		}
	}
	return false
}

func applyKey(c *Config, key, val string) error {
	var err error
	switch key {
	case "work_dir":
		c.WorkDir = val
	case "target_dir":
		c.TargetDir = val
	case "favourites":
		c.Favourites = splitList(val)
	case "favourites_file":
		c.FavouritesFile = val
	case "aliases_file":
		c.AliasesFile = val
	case "match_cache_file":
		c.MatchCacheFile = val
	case "playlist_out":
		c.PlaylistOut = val
	case "guide_out":
		c.GuideOut = val
	case "fuzzy_enabled":
		c.FuzzyEnabled, err = parseBool(key, val)
	case "fuzzy_threshold":
		c.FuzzyThreshold, err = parseFloat(key, val)
	case "guide_horizon_days":
		c.GuideHorizonDays, err = parseInt(key, val)
	case "fetch_concurrency":
		c.FetchConcurrency, err = parseInt(key, val)
	case "fetch_timeout":
		c.FetchTimeout, err = parseDuration(key, val)
	case "retry_attempts":
		c.RetryAttempts, err = parseInt(key, val)
	case "retry_backoff":
		c.RetryBackoff, err = parseDuration(key, val)
	case "log_level":
		c.LogLevel = strings.ToLower(val)
	case "log_file":
		c.LogFile = val
	default:
		return fmt.Errorf("%w: unknown option %q", ErrConfig, key)
	}
	return err
}

// applySourceKey handles "source.<name>.<field>" keys.
func applySourceKey(sources map[string]*Source, key, val string) error {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[1] == "" {
		return fmt.Errorf("%w: malformed source option %q", ErrConfig, key)
	}
	name := parts[1]
	s, ok := sources[name]
	if !ok {
		s = &Source{Name: name}
		sources[name] = s
	}
	switch parts[2] {
	case "urls":
		s.URLs = splitList(val)
	case "kind":
		s.Kind = strings.ToLower(val)
	case "priority":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		s.Priority = n
	default:
		return fmt.Errorf("%w: unknown source option %q", ErrConfig, key)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseBool(key, val string) (bool, error) {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s: %q is not a boolean", ErrConfig, key, val)
}

func parseInt(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not an integer", ErrConfig, key, val)
	}
	return n, nil
}

func parseFloat(key, val string) (float64, error) {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a number", ErrConfig, key, val)
	}
	return f, nil
}

func parseDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a duration", ErrConfig, key, val)
	}
	return d, nil
}
