package settings

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type mapStore map[string]string

func (m mapStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapStore) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), mapStore{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Enabled {
		t.Error("sync enabled by default")
	}
	if cfg.DaysAhead != DefaultDaysAhead {
		t.Errorf("DaysAhead = %d, want %d", cfg.DaysAhead, DefaultDaysAhead)
	}
	if cfg.ClonePrefix != DefaultClonePrefix {
		t.Errorf("ClonePrefix = %q, want %q", cfg.ClonePrefix, DefaultClonePrefix)
	}
	if !cfg.LastSyncAt.IsZero() {
		t.Errorf("LastSyncAt = %v, want zero", cfg.LastSyncAt)
	}
}

func TestLoadStoredValues(t *testing.T) {
	m := mapStore{
		KeyEnabled:      "true",
		KeySources:      `["a@example.com","b@example.com","a@example.com"]`,
		KeyDestinations: `[{"id":"c@example.com","showExternalEventNames":false},{"id":"d@example.com"}]`,
		KeyDaysAhead:    "14",
		KeyClonePrefix:  "[mirror] ",
		KeyLastSync:     "2026-10-01T08:00:00Z",
	}

	cfg, err := Load(context.Background(), m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Enabled {
		t.Error("Enabled = false")
	}
	if want := []string{"a@example.com", "b@example.com"}; !reflect.DeepEqual(cfg.SourceCalendarIDs, want) {
		t.Errorf("SourceCalendarIDs = %v, want %v", cfg.SourceCalendarIDs, want)
	}
	wantDests := []Destination{
		{ID: "c@example.com", MirrorExternalNames: false},
		{ID: "d@example.com", MirrorExternalNames: true},
	}
	if !reflect.DeepEqual(cfg.Destinations, wantDests) {
		t.Errorf("Destinations = %+v, want %+v", cfg.Destinations, wantDests)
	}
	if cfg.DaysAhead != 14 {
		t.Errorf("DaysAhead = %d", cfg.DaysAhead)
	}
	if cfg.ClonePrefix != "[mirror] " {
		t.Errorf("ClonePrefix = %q", cfg.ClonePrefix)
	}
	if want := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC); !cfg.LastSyncAt.Equal(want) {
		t.Errorf("LastSyncAt = %v, want %v", cfg.LastSyncAt, want)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"enabled", KeyEnabled, "sometimes"},
		{"days not a number", KeyDaysAhead, "sixty"},
		{"negative days", KeyDaysAhead, "-1"},
		{"sources json", KeySources, `["a"`},
		{"destinations json", KeyDestinations, `[{"id":1}]`},
		{"empty destination id", KeyDestinations, `[{"id":""}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), mapStore{tt.key: tt.val})
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadIgnoresLegacyLastSync(t *testing.T) {
	cfg, err := Load(context.Background(), mapStore{KeyLastSync: "10/1/2026, 8:00:00 AM"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.LastSyncAt.IsZero() {
		t.Errorf("LastSyncAt = %v, want zero", cfg.LastSyncAt)
	}
}

func TestSetLastSyncRequiresRFC3339(t *testing.T) {
	cfg := Default()
	if err := cfg.Set(KeyLastSync, "yesterday"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Set(garbage) = %v, want ErrInvalid", err)
	}
	if err := cfg.Set(KeyLastSync, "2026-10-01T08:00:00Z"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if want := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC); !cfg.LastSyncAt.Equal(want) {
		t.Errorf("LastSyncAt = %v, want %v", cfg.LastSyncAt, want)
	}
	if err := cfg.Set(KeyLastSync, ""); err != nil || !cfg.LastSyncAt.IsZero() {
		t.Errorf("Set(\"\") = %v, LastSyncAt = %v; want cleared", err, cfg.LastSyncAt)
	}
}

func TestSetCommaSeparatedLists(t *testing.T) {
	cfg := Default()
	if err := cfg.Set(KeySources, " a, b ,,a"); err != nil {
		t.Fatalf("Set sources: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(cfg.SourceCalendarIDs, want) {
		t.Errorf("SourceCalendarIDs = %v, want %v", cfg.SourceCalendarIDs, want)
	}

	if err := cfg.Set(KeyDestinations, "c,d,c"); err != nil {
		t.Fatalf("Set destinations: %v", err)
	}
	want := []Destination{{ID: "c", MirrorExternalNames: true}, {ID: "d", MirrorExternalNames: true}}
	if !reflect.DeepEqual(cfg.Destinations, want) {
		t.Errorf("Destinations = %+v, want %+v", cfg.Destinations, want)
	}
}

func TestSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	m := mapStore{}
	in := &Config{
		Enabled:           true,
		SourceCalendarIDs: []string{"a"},
		Destinations:      []Destination{{ID: "b", MirrorExternalNames: false}},
		DaysAhead:         7,
		ClonePrefix:       "~ ",
	}
	if err := Save(ctx, m, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := m[KeyLastSync]; ok {
		t.Error("Save wrote an empty last sync time")
	}
	if m[KeyDestinations] != `[{"id":"b","showExternalEventNames":false}]` {
		t.Errorf("stored destinations = %s", m[KeyDestinations])
	}

	out, err := Load(ctx, m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Load = %+v, want %+v", out, in)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled and empty", Config{}, false},
		{"enabled without sources", Config{Enabled: true, Destinations: []Destination{{ID: "b"}}}, true},
		{"enabled without destinations", Config{Enabled: true, SourceCalendarIDs: []string{"a"}}, true},
		{"negative window", Config{DaysAhead: -3}, true},
		{"complete", Config{Enabled: true, SourceCalendarIDs: []string{"a"}, Destinations: []Destination{{ID: "b"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestWindowAndCloneTest(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	cfg := &Config{DaysAhead: 60, ClonePrefix: "* "}

	start, end := cfg.Window(now)
	if !start.Equal(now) || !end.Equal(now.AddDate(0, 0, 60)) {
		t.Errorf("Window = [%v, %v)", start, end)
	}

	if !cfg.IsClone("* Standup") || cfg.IsClone("Standup") || cfg.IsClone(" * Standup") {
		t.Error("IsClone misclassified a title")
	}

	cfg.ClonePrefix = ""
	if !cfg.IsClone("Standup") {
		t.Error("empty prefix should match every title")
	}
}

func TestParseFile(t *testing.T) {
	doc := []byte(`
enabled: true
sources: [work@example.com, team@example.com]
destinations:
  - id: personal@example.com
  - id: caldav:/calendars/me/home/
    mirror_external_names: false
days_ahead: 30
clone_prefix: "* "
`)
	cfg, err := ParseFile(doc)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	want := &Config{
		Enabled:           true,
		SourceCalendarIDs: []string{"work@example.com", "team@example.com"},
		Destinations: []Destination{
			{ID: "personal@example.com", MirrorExternalNames: true},
			{ID: "caldav:/calendars/me/home/", MirrorExternalNames: false},
		},
		DaysAhead:   30,
		ClonePrefix: "* ",
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("ParseFile = %+v, want %+v", cfg, want)
	}

	out, err := MarshalFile(cfg)
	if err != nil {
		t.Fatalf("MarshalFile: %v", err)
	}
	again, err := ParseFile(out)
	if err != nil {
		t.Fatalf("ParseFile(MarshalFile): %v", err)
	}
	if !reflect.DeepEqual(again, want) {
		t.Errorf("export/import changed settings: %+v", again)
	}
}

func TestParseFileDropsRepeatedDestinations(t *testing.T) {
	doc := []byte(`
destinations:
  - id: personal@example.com
  - id: personal@example.com
    mirror_external_names: false
  - id: family@example.com
`)
	cfg, err := ParseFile(doc)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	want := []Destination{
		{ID: "personal@example.com", MirrorExternalNames: true},
		{ID: "family@example.com", MirrorExternalNames: true},
	}
	if !reflect.DeepEqual(cfg.Destinations, want) {
		t.Errorf("Destinations = %+v, want %+v", cfg.Destinations, want)
	}

	if _, err := ParseFile([]byte("destinations:\n  - id: \"\"\n")); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty id: err = %v, want ErrInvalid", err)
	}
}

func TestParseFileRejectsNegativeDays(t *testing.T) {
	_, err := ParseFile([]byte("days_ahead: -5\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
