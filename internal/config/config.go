// Package config loads, validates and watches the meetwatch YAML config.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/meetwatch/internal/model"
)

// Environment overrides.
const (
	EnvDatabase      = "MEETWATCH_DB"
	EnvTelegramToken = "MEETWATCH_TELEGRAM_TOKEN"
)

// Defaults.
const (
	DefaultDatabase     = "meetwatch.db"
	DefaultPollInterval = "5m"
	DefaultLookahead    = "168h"
	DefaultRetention    = "24h"
	DefaultTimezone     = "UTC"
	DefaultParsePolicy  = "fallback"
	DefaultCalendarID   = "primary"
)

//go:embed schema.cue
var schemaSource string

// User is a statically configured user. Users with an ICS URL are
// registered on startup and whenever the file changes.
type User struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	ICSURL string `yaml:"ics_url,omitempty" json:"ics_url,omitempty"`
}

// Telegram configures the bot.
type Telegram struct {
	Token  string `yaml:"token,omitempty" json:"token,omitempty"`
	APIURL string `yaml:"api_url,omitempty" json:"api_url,omitempty"`

	// AllowedUsers are chat ids, besides Users, that may send commands.
	AllowedUsers []string `yaml:"allowed_users,omitempty" json:"allowed_users,omitempty"`
}

// Google configures the OAuth client and calendar.
type Google struct {
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	RedirectURL  string `yaml:"redirect_url,omitempty" json:"redirect_url,omitempty"`
	CalendarID   string `yaml:"calendar_id,omitempty" json:"calendar_id,omitempty"`
}

// Defaults are applied to users without stored settings.
type Defaults struct {
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes" json:"reminder_lead_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Database is a SQLite path or a postgres:// DSN.
	Database string `yaml:"database" json:"database"`

	// PollInterval is the time between cycles, as a Go duration.
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`

	// Schedule is an optional cron expression that replaces PollInterval.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`

	Lookahead string `yaml:"lookahead" json:"lookahead"`
	Retention string `yaml:"retention" json:"retention"`

	// Timezone is the IANA zone messages are rendered in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// ParsePolicy decides what happens to events with malformed times:
	// "fallback" substitutes the current instant, "skip" drops the event.
	ParsePolicy string `yaml:"parse_policy" json:"parse_policy"`

	Defaults Defaults `yaml:"defaults" json:"defaults"`
	Telegram Telegram `yaml:"telegram,omitempty" json:"telegram,omitempty"`
	Google   Google   `yaml:"google,omitempty" json:"google,omitempty"`
	Users    []User   `yaml:"users,omitempty" json:"users,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.PollInterval == "" {
		c.PollInterval = DefaultPollInterval
	}
	if c.Lookahead == "" {
		c.Lookahead = DefaultLookahead
	}
	if c.Retention == "" {
		c.Retention = DefaultRetention
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.ParsePolicy == "" {
		c.ParsePolicy = DefaultParsePolicy
	}
	if c.Defaults.ReminderLeadMinutes == 0 {
		c.Defaults.ReminderLeadMinutes = model.DefaultReminderLead
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = DefaultCalendarID
	}
	if c.Users == nil {
		c.Users = []User{}
	}
	for i := range c.Users {
		c.Users[i].ID = strings.TrimSpace(c.Users[i].ID)
		c.Users[i].ICSURL = strings.TrimSpace(c.Users[i].ICSURL)
	}
	for i := range c.Telegram.AllowedUsers {
		c.Telegram.AllowedUsers[i] = strings.TrimSpace(c.Telegram.AllowedUsers[i])
	}
}

// ApplyEnv overrides values from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
	}
}

// Interval returns the poll interval.
func (c *Config) Interval() time.Duration {
	return mustDuration(c.PollInterval, DefaultPollInterval)
}

// LookaheadDuration returns the fetch window length.
func (c *Config) LookaheadDuration() time.Duration {
	return mustDuration(c.Lookahead, DefaultLookahead)
}

// RetentionDuration returns how long ended meetings are kept.
func (c *Config) RetentionDuration() time.Duration {
	return mustDuration(c.Retention, DefaultRetention)
}

// CronSpec returns the schedule, or an @every descriptor for the interval.
func (c *Config) CronSpec() string {
	if c.Schedule != "" {
		return c.Schedule
	}
	return "@every " + c.Interval().String()
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ICSUsers returns user id to feed URL for users with a feed.
func (c *Config) ICSUsers() map[string]string {
	out := make(map[string]string)
	for _, u := range c.Users {
		if u.ICSURL != "" {
			out[u.ID] = u.ICSURL
		}
	}
	return out
}

// BotUsers returns the chat ids allowed to use the bot: configured users
// and telegram.allowed_users, sorted and deduplicated.
func (c *Config) BotUsers() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, u := range c.Users {
		add(u.ID)
	}
	for _, id := range c.Telegram.AllowedUsers {
		add(id)
	}
	slices.Sort(out)
	return out
}

func mustDuration(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks c against the embedded schema and the runtime constraints
// the schema cannot express.
func (c *Config) Validate() error {
	var problems []string

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Unify(ctx.Encode(c)).Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, strings.TrimSpace(e.Error()))
		}
	}

	for _, field := range []struct{ name, value string }{
		{"poll_interval", c.PollInterval},
		{"lookahead", c.Lookahead},
		{"retention", c.Retention},
	} {
		if d, err := time.ParseDuration(field.value); err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("%s: %q is not a positive duration", field.name, field.value))
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("schedule: %v", err))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("timezone: %v", err))
	}

	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.ID != "" && seen[u.ID] {
			problems = append(problems, fmt.Sprintf("users: duplicate id %q", u.ID))
		}
		seen[u.ID] = true
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Parse decodes YAML, rejecting unknown keys, and normalizes the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Load reads the config at path.
//
// If the file does not exist a default config is written there with 0600
// permissions and returned. The result is normalized but not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}
	return Parse(data)
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".meetwatch-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
