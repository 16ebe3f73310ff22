// Package config loads the backup configuration: tokens, sources and the
// optional exporter and offsite settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/chatvault/internal/exporter"
	"github.com/dukerupert/chatvault/internal/model"
	"github.com/dukerupert/chatvault/internal/month"
	"github.com/dukerupert/chatvault/internal/offsite"
)

// discordEpoch is the first millisecond of 2015, in Unix milliseconds.
const discordEpoch = 1420070400000

func init() {
	snowflake.Epoch = discordEpoch
}

var (
	invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	snowflakePattern = regexp.MustCompile(`^\d{17,19}$`)
)

// Config is the validated configuration.
type Config struct {
	ExportsDir string
	LedgerPath string
	HistoryDB  string
	Exporter   exporter.Config
	Offsite    offsite.Config
	Sources    []model.Source
	TokenCount int
}

// ValidationError reports configuration that cannot be used. Nothing should
// be backed up when it is returned.
type ValidationError struct {
	Source string // guild name or ID, empty for file-level problems
	Field  string
	Msg    string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Source != "" {
		fmt.Fprintf(&b, ": guild %q", e.Source)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// fileConfig is the on-disk shape. Tokens and guilds are decoded loosely so
// that type mistakes get a precise message instead of a decoder error.
type fileConfig struct {
	ExportsDir string           `yaml:"exportsDir"`
	HistoryDB  string           `yaml:"historyDB"`
	Tokens     []map[string]any `yaml:"tokens"`
	Guilds     []map[string]any `yaml:"guilds"`
	Exporter   struct {
		Path      string   `yaml:"path"`
		ExtraArgs []string `yaml:"extraArgs"`
	} `yaml:"exporter"`
	Offsite struct {
		Endpoint   string `yaml:"endpoint"`
		Bucket     string `yaml:"bucket"`
		Region     string `yaml:"region"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		Prefix     string `yaml:"prefix"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"offsite"`
}

// Load reads and validates the configuration file at path. JSON files are
// accepted as well as YAML. now is used to reject start months in the future.
func Load(path string, now time.Time, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ValidationError{Msg: fmt.Sprintf("configuration file not found: %s (copy config.example.yaml to %s and fill in the values)", path, path)}
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, now, logger)
}

// Parse validates raw configuration bytes and applies environment overrides.
func Parse(data []byte, now time.Time, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid syntax: %v", err)}
	}

	tokens, err := parseTokens(fc.Tokens)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ExportsDir: envOr("CHATVAULT_EXPORTS_DIR", orDefault(fc.ExportsDir, "exports")),
		Exporter: exporter.Config{
			Path:      envOr("CHATVAULT_EXPORTER_PATH", fc.Exporter.Path),
			ExtraArgs: fc.Exporter.ExtraArgs,
		},
		Offsite: offsite.Config{
			S3: offsite.S3Config{
				Endpoint:  envOr("CHATVAULT_S3_ENDPOINT", fc.Offsite.Endpoint),
				Bucket:    envOr("CHATVAULT_S3_BUCKET", fc.Offsite.Bucket),
				Region:    envOr("CHATVAULT_S3_REGION", fc.Offsite.Region),
				AccessKey: envOr("CHATVAULT_S3_ACCESS_KEY", fc.Offsite.AccessKey),
				SecretKey: envOr("CHATVAULT_S3_SECRET_KEY", fc.Offsite.SecretKey),
			},
			Prefix:     fc.Offsite.Prefix,
			Passphrase: envOr("CHATVAULT_OFFSITE_PASSPHRASE", fc.Offsite.Passphrase),
		},
		TokenCount: len(tokens),
	}
	cfg.LedgerPath = filepath.Join(cfg.ExportsDir, "metadata.json")
	cfg.HistoryDB = envOr("CHATVAULT_HISTORY_DB", orDefault(fc.HistoryDB, filepath.Join(cfg.ExportsDir, "history.db")))

	names := make(map[string]bool)
	ids := make(map[string]bool)
	for _, g := range fc.Guilds {
		enabled, err := optionalBool(g, "enabled")
		if err != nil {
			return nil, err
		}
		if !enabled {
			continue
		}

		src, err := parseSource(g, tokens, now, logger)
		if err != nil {
			return nil, err
		}
		if names[src.Name] {
			return nil, &ValidationError{Source: src.Name, Field: "guildName", Msg: "is used by more than one guild (it names the output folder)"}
		}
		if ids[src.ID] {
			return nil, &ValidationError{Source: src.Name, Field: "guildId", Msg: fmt.Sprintf("%s is configured more than once", src.ID)}
		}
		names[src.Name] = true
		ids[src.ID] = true
		cfg.Sources = append(cfg.Sources, src)
	}

	logger.Info("configuration loaded", "guilds", len(cfg.Sources), "tokens", len(tokens))
	for _, s := range cfg.Sources {
		logger.Debug("configured guild", "name", s.Name, "kind", s.Kind, "start", s.StartMonth.String())
	}
	return cfg, nil
}

func parseTokens(raw []map[string]any) (map[string]string, error) {
	tokens := make(map[string]string, len(raw))
	for _, t := range raw {
		name, okName := t["name"].(string)
		value, okValue := t["value"].(string)
		if !okName || !okValue || name == "" || value == "" {
			return nil, &ValidationError{Field: "tokens", Msg: fmt.Sprintf(`token must have non-empty string "name" and "value" fields, found fields %s`, keys(t))}
		}
		tokens[name] = value
	}
	return tokens, nil
}

func parseSource(g map[string]any, tokens map[string]string, now time.Time, logger *slog.Logger) (model.Source, error) {
	label, _ := g["guildName"].(string)
	if label == "" {
		label, _ = g["guildId"].(string)
	}
	fail := func(field, format string, args ...any) (model.Source, error) {
		return model.Source{}, &ValidationError{Source: label, Field: field, Msg: fmt.Sprintf(format, args...)}
	}

	fields := make(map[string]string)
	for _, f := range []string{"tokenName", "guildId", "guildName", "startDate"} {
		v, ok := g[f]
		if !ok {
			return fail(f, "is required, found fields %s", keys(g))
		}
		s, ok := v.(string)
		if !ok {
			return fail(f, "must be a string, found %T", v)
		}
		if strings.TrimSpace(s) == "" {
			return fail(f, "must not be empty")
		}
		fields[f] = s
	}

	src := model.Source{
		ID:        fields["guildId"],
		Name:      fields["guildName"],
		TokenName: fields["tokenName"],
		Kind:      model.SourceKindGuild,
	}

	var created time.Time
	if src.ID == model.DirectMessagesID {
		src.Kind = model.SourceKindDM
	} else {
		if !snowflakePattern.MatchString(src.ID) {
			return fail("guildId", "must be a discord snowflake (17-19 digits) or %q for direct messages, found %s", model.DirectMessagesID, src.ID)
		}
		id, err := snowflake.ParseString(src.ID)
		if err != nil {
			return fail("guildId", "invalid snowflake %s: %v", src.ID, err)
		}
		created = creationTime(id)
	}

	if invalidPathChars.MatchString(src.Name) || src.Name == "." || src.Name == ".." {
		return fail("guildName", `must be usable as a folder name (no <>:"/\|?*), found %s`, src.Name)
	}

	start, err := month.Parse(fields["startDate"])
	if err != nil {
		return fail("startDate", "must be in YYYY-MM format with a month of 01-12, found %s", fields["startDate"])
	}
	if start.Start().After(now) {
		return fail("startDate", "cannot be in the future, found %s", fields["startDate"])
	}
	src.StartMonth = start
	if !created.IsZero() && start.Before(month.Of(created)) {
		logger.Warn("start date precedes guild creation, early months will be empty",
			"guild", src.Name, "start", start.String(), "created", month.Of(created).String())
	}

	if v, ok := g["throttleHours"]; ok {
		hours, ok := number(v)
		if !ok {
			return fail("throttleHours", "must be a number, found %T", v)
		}
		if hours < 0 {
			return fail("throttleHours", "must not be negative, found %g", hours)
		}
		src.ThrottleHours = hours
	}

	token, ok := tokens[src.TokenName]
	if !ok {
		return fail("tokenName", "token %q not found in tokens", src.TokenName)
	}
	src.Token = token

	return src, nil
}

// creationTime is when the snowflake was generated.
func creationTime(id snowflake.ID) time.Time {
	return time.UnixMilli(id.Time()).UTC()
}

func optionalBool(g map[string]any, field string) (bool, error) {
	v, ok := g[field]
	if !ok {
		return true, nil
	}
	b, ok := v.(bool)
	if !ok {
		label, _ := g["guildName"].(string)
		return false, &ValidationError{Source: label, Field: field, Msg: fmt.Sprintf("must be a boolean if set, found %T", v)}
	}
	return b, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func keys(m map[string]any) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return "[" + strings.Join(out, ", ") + "]"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
