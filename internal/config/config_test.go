package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/dukerupert/chatvault/internal/model"
	"github.com/dukerupert/chatvault/internal/month"
)

var testNow = time.Date(2024, time.April, 15, 12, 0, 0, 0, time.UTC)

const validJSON = `{
  "tokens": [
    {"name": "main", "value": "mfa.secret-token"},
    {"name": "alt", "value": "other-token"}
  ],
  "guilds": [
    {"guildId": "123456789012345678", "guildName": "Test Server", "tokenName": "main", "startDate": "2024-01", "throttleHours": 24},
    {"guildId": "@me", "guildName": "Direct Messages", "tokenName": "alt", "startDate": "2023-11"},
    {"guildId": "223456789012345678", "guildName": "Old Server", "tokenName": "main", "startDate": "2023-01", "enabled": false}
  ]
}`

func parse(t *testing.T, data string) (*Config, error) {
	t.Helper()
	return Parse([]byte(data), testNow, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func mustValidationError(t *testing.T, err error, field string) *ValidationError {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %v is %T, want *ValidationError", err, err)
	}
	if verr.Field != field {
		t.Errorf("Field = %q, want %q (error: %v)", verr.Field, field, err)
	}
	return verr
}

func TestParse_Valid(t *testing.T) {
	cfg, err := parse(t, validJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("got %d sources, want 2 (disabled guild dropped)", len(cfg.Sources))
	}

	guild := cfg.Sources[0]
	want := model.Source{
		ID:            "123456789012345678",
		Name:          "Test Server",
		StartMonth:    month.New(2024, time.January),
		ThrottleHours: 24,
		TokenName:     "main",
		Token:         "mfa.secret-token",
		Kind:          model.SourceKindGuild,
	}
	if guild != want {
		t.Errorf("source = %+v, want %+v", guild, want)
	}

	dm := cfg.Sources[1]
	if !dm.IsDirectMessages() || dm.Token != "other-token" || dm.ThrottleHours != 0 {
		t.Errorf("dm source = %+v", dm)
	}
	if cfg.TokenCount != 2 {
		t.Errorf("TokenCount = %d, want 2", cfg.TokenCount)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(t, validJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ExportsDir != "exports" {
		t.Errorf("ExportsDir = %q", cfg.ExportsDir)
	}
	if cfg.LedgerPath != filepath.Join("exports", "metadata.json") {
		t.Errorf("LedgerPath = %q", cfg.LedgerPath)
	}
	if cfg.HistoryDB != filepath.Join("exports", "history.db") {
		t.Errorf("HistoryDB = %q", cfg.HistoryDB)
	}
	if cfg.Exporter.Path != "" || cfg.Offsite.S3.Bucket != "" {
		t.Errorf("unexpected exporter/offsite settings: %+v %+v", cfg.Exporter, cfg.Offsite)
	}
}

func TestParse_YAML(t *testing.T) {
	data := `
exportsDir: /data/archive
exporter:
  path: /opt/dce/DiscordChatExporter.Cli
  extraArgs: ["--parallel", "2"]
offsite:
  bucket: chat-backups
  accessKey: AKIA
  secretKey: shh
  prefix: nightly
tokens:
  - name: main
    value: tok
guilds:
  - guildId: "123456789012345678"
    guildName: Test Server
    tokenName: main
    startDate: "2024-02"
    throttleHours: 1.5
`
	cfg, err := parse(t, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ExportsDir != "/data/archive" || cfg.LedgerPath != "/data/archive/metadata.json" {
		t.Errorf("dirs = %q %q", cfg.ExportsDir, cfg.LedgerPath)
	}
	if cfg.Exporter.Path != "/opt/dce/DiscordChatExporter.Cli" || len(cfg.Exporter.ExtraArgs) != 2 {
		t.Errorf("Exporter = %+v", cfg.Exporter)
	}
	if cfg.Offsite.S3.Bucket != "chat-backups" || cfg.Offsite.Prefix != "nightly" {
		t.Errorf("Offsite = %+v", cfg.Offsite)
	}
	if got := cfg.Sources[0].ThrottleHours; got != 1.5 {
		t.Errorf("ThrottleHours = %v, want 1.5", got)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("CHATVAULT_EXPORTS_DIR", "/mnt/exports")
	t.Setenv("CHATVAULT_EXPORTER_PATH", "/usr/local/bin/dce")
	t.Setenv("CHATVAULT_S3_BUCKET", "env-bucket")
	t.Setenv("CHATVAULT_OFFSITE_PASSPHRASE", "pw")

	cfg, err := parse(t, validJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ExportsDir != "/mnt/exports" || cfg.HistoryDB != "/mnt/exports/history.db" {
		t.Errorf("ExportsDir = %q HistoryDB = %q", cfg.ExportsDir, cfg.HistoryDB)
	}
	if cfg.Exporter.Path != "/usr/local/bin/dce" {
		t.Errorf("Exporter.Path = %q", cfg.Exporter.Path)
	}
	if cfg.Offsite.S3.Bucket != "env-bucket" || cfg.Offsite.Passphrase != "pw" {
		t.Errorf("Offsite = %+v", cfg.Offsite)
	}
}

func TestParse_Invalid(t *testing.T) {
	guild := func(fields string) string {
		return `{"tokens": [{"name": "main", "value": "tok"}], "guilds": [{` + fields + `}]}`
	}
	base := `"guildId": "123456789012345678", "guildName": "Server", "tokenName": "main"`

	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"syntax", `{"tokens": [`, ""},
		{"token without value", `{"tokens": [{"name": "main"}], "guilds": []}`, "tokens"},
		{"missing startDate", guild(base), "startDate"},
		{"missing guildName", guild(`"guildId": "123456789012345678", "tokenName": "main", "startDate": "2024-01"`), "guildName"},
		{"numeric guildId", guild(`"guildId": 123456789012345678, "guildName": "Server", "tokenName": "main", "startDate": "2024-01"`), "guildId"},
		{"short guildId", guild(`"guildId": "12345", "guildName": "Server", "tokenName": "main", "startDate": "2024-01"`), "guildId"},
		{"empty tokenName", guild(`"guildId": "123456789012345678", "guildName": "Server", "tokenName": " ", "startDate": "2024-01"`), "tokenName"},
		{"path chars", guild(`"guildId": "123456789012345678", "guildName": "a/b", "tokenName": "main", "startDate": "2024-01"`), "guildName"},
		{"dot dot", guild(`"guildId": "123456789012345678", "guildName": "..", "tokenName": "main", "startDate": "2024-01"`), "guildName"},
		{"bad month", guild(base + `, "startDate": "2024-13"`), "startDate"},
		{"bad date format", guild(base + `, "startDate": "2024-1"`), "startDate"},
		{"future start", guild(base + `, "startDate": "2024-05"`), "startDate"},
		{"negative throttle", guild(base + `, "startDate": "2024-01", "throttleHours": -1`), "throttleHours"},
		{"string throttle", guild(base + `, "startDate": "2024-01", "throttleHours": "24"`), "throttleHours"},
		{"enabled not bool", guild(base + `, "startDate": "2024-01", "enabled": "yes"`), "enabled"},
		{"unknown token", guild(`"guildId": "123456789012345678", "guildName": "Server", "tokenName": "nope", "startDate": "2024-01"`), "tokenName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.data)
			mustValidationError(t, err, tt.field)
		})
	}
}

func TestParse_CurrentMonthStartAllowed(t *testing.T) {
	data := `{"tokens": [{"name": "main", "value": "tok"}], "guilds": [
		{"guildId": "@me", "guildName": "DMs", "tokenName": "main", "startDate": "2024-04"}]}`
	if _, err := parse(t, data); err != nil {
		t.Errorf("current month start rejected: %v", err)
	}
}

func TestParse_DuplicateNames(t *testing.T) {
	data := `{"tokens": [{"name": "main", "value": "tok"}], "guilds": [
		{"guildId": "123456789012345678", "guildName": "Same", "tokenName": "main", "startDate": "2024-01"},
		{"guildId": "223456789012345678", "guildName": "Same", "tokenName": "main", "startDate": "2024-01"}]}`
	verr := mustValidationError(t, mustFail(parse(t, data)), "guildName")
	if verr.Source != "Same" {
		t.Errorf("Source = %q", verr.Source)
	}
}

func TestParse_DuplicateIDs(t *testing.T) {
	data := `{"tokens": [{"name": "main", "value": "tok"}], "guilds": [
		{"guildId": "123456789012345678", "guildName": "One", "tokenName": "main", "startDate": "2024-01"},
		{"guildId": "123456789012345678", "guildName": "Two", "tokenName": "main", "startDate": "2024-01"}]}`
	mustValidationError(t, mustFail(parse(t, data)), "guildId")
}

func TestParse_DuplicateNameOnDisabledGuildIgnored(t *testing.T) {
	data := `{"tokens": [{"name": "main", "value": "tok"}], "guilds": [
		{"guildId": "123456789012345678", "guildName": "Same", "tokenName": "main", "startDate": "2024-01"},
		{"guildId": "223456789012345678", "guildName": "Same", "tokenName": "main", "startDate": "2024-01", "enabled": false}]}`
	if _, err := parse(t, data); err != nil {
		t.Errorf("Parse: %v", err)
	}
}

func TestParse_WarnsWhenStartPrecedesCreation(t *testing.T) {
	// 700000000000000000 was created in April 2020.
	data := `{"tokens": [{"name": "main", "value": "tok"}], "guilds": [
		{"guildId": "700000000000000000", "guildName": "Server", "tokenName": "main", "startDate": "2019-06"}]}`

	var buf bytes.Buffer
	if _, err := Parse([]byte(data), testNow, slog.New(slog.NewTextHandler(&buf, nil))); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "precedes guild creation") || !strings.Contains(out, "created=2020-04") {
		t.Errorf("log output missing creation warning:\n%s", out)
	}

	buf.Reset()
	data = strings.Replace(data, "2019-06", "2020-05", 1)
	if _, err := Parse([]byte(data), testNow, slog.New(slog.NewTextHandler(&buf, nil))); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if strings.Contains(buf.String(), "precedes guild creation") {
		t.Error("unexpected creation warning")
	}
}

func TestCreationTime(t *testing.T) {
	id, err := snowflake.ParseString("175928847299117063")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2016, time.April, 30, 11, 18, 25, 796_000_000, time.UTC)
	if got := creationTime(id); !got.Equal(want) {
		t.Errorf("creationTime = %v, want %v", got, want)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.json"), testNow, nil)
	verr := mustValidationError(t, err, "")
	if !strings.Contains(verr.Msg, "not found") {
		t.Errorf("Msg = %q", verr.Msg)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(validJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, testNow, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Errorf("got %d sources", len(cfg.Sources))
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Source: "Server", Field: "startDate", Msg: "cannot be in the future"}
	want := `config: guild "Server": field "startDate": cannot be in the future`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func mustFail(_ *Config, err error) error {
	return err
}
