package settings

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// File is the YAML document used to import and export settings.
type File struct {
	Enabled      bool          `yaml:"enabled"`
	Sources      []string      `yaml:"sources"`
	Destinations []Destination `yaml:"destinations"`
	DaysAhead    *int          `yaml:"days_ahead,omitempty"`
	ClonePrefix  *string       `yaml:"clone_prefix,omitempty"`
}

// UnmarshalYAML defaults MirrorExternalNames to true when the field is missing.
func (d *Destination) UnmarshalYAML(n *yaml.Node) error {
	var raw rawDestination
	if err := n.Decode(&raw); err != nil {
		return err
	}
	*d = raw.destination()
	return nil
}

// ParseFile decodes a YAML settings document. Fields left out of the
// document keep their defaults.
func ParseFile(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := Default()
	cfg.Enabled = f.Enabled
	cfg.SourceCalendarIDs = dedupe(f.Sources)
	dests, err := uniqueDestinations(f.Destinations)
	if err != nil {
		return nil, fmt.Errorf("%w: destinations: %v", ErrInvalid, err)
	}
	cfg.Destinations = dests
	if f.DaysAhead != nil {
		if *f.DaysAhead < 0 {
			return nil, fmt.Errorf("%w: days_ahead must not be negative, got %d", ErrInvalid, *f.DaysAhead)
		}
		cfg.DaysAhead = *f.DaysAhead
	}
	if f.ClonePrefix != nil {
		cfg.ClonePrefix = *f.ClonePrefix
	}
	return cfg, nil
}

// MarshalFile encodes cfg as a YAML settings document.
func MarshalFile(cfg *Config) ([]byte, error) {
	days, prefix := cfg.DaysAhead, cfg.ClonePrefix
	f := File{
		Enabled:      cfg.Enabled,
		Sources:      cfg.SourceCalendarIDs,
		Destinations: cfg.Destinations,
		DaysAhead:    &days,
		ClonePrefix:  &prefix,
	}
	return yaml.Marshal(f)
}
