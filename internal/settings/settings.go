// Package settings is the validated view over the stored sync settings.
//
// Settings are kept in the Configuration Store, one record per key, with
// list values stored as JSON text. A Config is loaded fresh at the start of every run
// and is never mutated while the run is in progress.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store keys.
const (
	KeyEnabled      = "enableSync"
	KeySources      = "sourceCalendars"
	KeyDestinations = "destinationCalendars"
	KeyDaysAhead    = "numDaysOut"
	KeyClonePrefix  = "cloneEventPrefix"
	KeyLastSync     = "lastSyncTime"
)

// Keys lists every setting key in display order.
var Keys = []string{KeyEnabled, KeySources, KeyDestinations, KeyDaysAhead, KeyClonePrefix, KeyLastSync}

const (
	DefaultDaysAhead   = 60
	DefaultClonePrefix = "* "
)

// ErrInvalid marks a configuration error. Errors returned by Load, Set and
// Validate wrap it.
var ErrInvalid = errors.New("invalid configuration")

// Getter reads a single setting. ok is false when the key is absent.
type Getter interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Setter writes a single setting.
type Setter interface {
	Set(ctx context.Context, key, value string) error
}

// Destination is a calendar clones are written to.
type Destination struct {
	ID string `json:"id" yaml:"id"`
	// MirrorExternalNames copies source titles, descriptions and locations.
	// When false the destination only receives busy blocks.
	MirrorExternalNames bool `json:"showExternalEventNames" yaml:"mirror_external_names"`
}

type rawDestination struct {
	ID                  string `json:"id" yaml:"id"`
	MirrorExternalNames *bool  `json:"showExternalEventNames" yaml:"mirror_external_names"`
}

func (r rawDestination) destination() Destination {
	return Destination{ID: r.ID, MirrorExternalNames: r.MirrorExternalNames == nil || *r.MirrorExternalNames}
}

// UnmarshalJSON defaults MirrorExternalNames to true when the field is missing.
func (d *Destination) UnmarshalJSON(b []byte) error {
	var raw rawDestination
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = raw.destination()
	return nil
}

// Config is the sync configuration for one run.
type Config struct {
	Enabled           bool
	SourceCalendarIDs []string
	Destinations      []Destination
	DaysAhead         int
	ClonePrefix       string
	LastSyncAt        time.Time // zero if never synced
}

// Default returns the configuration used for keys that were never stored.
func Default() *Config {
	return &Config{
		DaysAhead:   DefaultDaysAhead,
		ClonePrefix: DefaultClonePrefix,
	}
}

// Load reads every setting from g, applying defaults for absent keys.
func Load(ctx context.Context, g Getter) (*Config, error) {
	cfg := Default()
	for _, key := range Keys {
		v, ok, err := g.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := cfg.Set(key, v); err != nil {
			if key == KeyLastSync {
				// Advisory only; older values were written in a locale format.
				continue
			}
			return nil, err
		}
	}
	return cfg, nil
}

// Save writes every setting in cfg to s.
func Save(ctx context.Context, s Setter, cfg *Config) error {
	for _, key := range Keys {
		if key == KeyLastSync && cfg.LastSyncAt.IsZero() {
			continue
		}
		v, err := cfg.Value(key)
		if err != nil {
			return err
		}
		if err := s.Set(ctx, key, v); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return nil
}

// RecordSync stores t as the last successful sync time.
func RecordSync(ctx context.Context, s Setter, t time.Time) error {
	return s.Set(ctx, KeyLastSync, t.UTC().Format(time.RFC3339))
}

// Set parses value into the field named by key.
//
// List settings accept either JSON text, as stored, or a comma-separated
// list of calendar ids.
func (c *Config) Set(key, value string) error {
	switch key {
	case KeyEnabled:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s must be true or false, got %q", ErrInvalid, key, value)
		}
		c.Enabled = b
	case KeySources:
		ids, err := parseIDs(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		c.SourceCalendarIDs = dedupe(ids)
	case KeyDestinations:
		dests, err := parseDestinations(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		c.Destinations = dests
	case KeyDaysAhead:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s must be a whole number, got %q", ErrInvalid, key, value)
		}
		if n < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalid, key, n)
		}
		c.DaysAhead = n
	case KeyClonePrefix:
		c.ClonePrefix = value
	case KeyLastSync:
		if strings.TrimSpace(value) == "" {
			c.LastSyncAt = time.Time{}
			return nil
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s must be an RFC 3339 time, got %q", ErrInvalid, key, value)
		}
		c.LastSyncAt = t
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
	}
	return nil
}

// Value returns the stored text form of the field named by key.
func (c *Config) Value(key string) (string, error) {
	switch key {
	case KeyEnabled:
		return strconv.FormatBool(c.Enabled), nil
	case KeySources:
		ids := c.SourceCalendarIDs
		if ids == nil {
			ids = []string{}
		}
		b, err := json.Marshal(ids)
		return string(b), err
	case KeyDestinations:
		dests := c.Destinations
		if dests == nil {
			dests = []Destination{}
		}
		b, err := json.Marshal(dests)
		return string(b), err
	case KeyDaysAhead:
		return strconv.Itoa(c.DaysAhead), nil
	case KeyClonePrefix:
		return c.ClonePrefix, nil
	case KeyLastSync:
		if c.LastSyncAt.IsZero() {
			return "", nil
		}
		return c.LastSyncAt.UTC().Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
}

// Validate reports configuration errors that must stop a run before any
// calendar is touched. A disabled configuration is always valid.
func (c *Config) Validate() error {
	if c.DaysAhead < 0 {
		return fmt.Errorf("%w: days ahead must not be negative, got %d", ErrInvalid, c.DaysAhead)
	}
	if !c.Enabled {
		return nil
	}
	if len(c.SourceCalendarIDs) == 0 {
		return fmt.Errorf("%w: sync is enabled but no source calendars are selected", ErrInvalid)
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("%w: sync is enabled but no destination calendars are selected", ErrInvalid)
	}
	return nil
}

// Window returns the sync window [now, now+DaysAhead days).
func (c *Config) Window(now time.Time) (start, end time.Time) {
	return now, now.AddDate(0, 0, c.DaysAhead)
}

// IsClone reports whether title marks an event created by a sync run.
// With an empty prefix every event matches.
func (c *Config) IsClone(title string) bool {
	return strings.HasPrefix(title, c.ClonePrefix)
}

// IsSource reports whether id is one of the source calendars.
func (c *Config) IsSource(id string) bool {
	for _, s := range c.SourceCalendarIDs {
		if s == id {
			return true
		}
	}
	return false
}

func parseIDs(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.HasPrefix(value, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(value), &ids); err != nil {
			return nil, err
		}
		return ids, nil
	}
	var ids []string
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func parseDestinations(value string) ([]Destination, error) {
	var dests []Destination
	if strings.HasPrefix(strings.TrimSpace(value), "[") {
		if err := json.Unmarshal([]byte(value), &dests); err != nil {
			return nil, err
		}
	} else {
		ids, err := parseIDs(value)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			dests = append(dests, Destination{ID: id, MirrorExternalNames: true})
		}
	}
	return uniqueDestinations(dests)
}

// uniqueDestinations drops repeated destination ids, keeping the first
// occurrence. An empty id is an error.
func uniqueDestinations(dests []Destination) ([]Destination, error) {
	seen := make(map[string]bool, len(dests))
	out := dests[:0]
	for _, d := range dests {
		if d.ID == "" {
			return nil, errors.New("destination with empty id")
		}
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out, nil
}

// dedupe drops repeated ids, keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
