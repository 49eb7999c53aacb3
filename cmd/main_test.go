package main

import "testing"

func TestCycleSchedule(t *testing.T) {
	tests := []struct {
		name     string
		once     bool
		schedule string
		watchSet bool
		watch    int
		want     string
		wantErr  bool
	}{
		{name: "default is a single cycle", watch: 300},
		{name: "watch", watchSet: true, watch: 60, want: "@every 1m0s"},
		{name: "schedule beats watch", schedule: "*/15 * * * *", watchSet: true, watch: 60, want: "*/15 * * * *"},
		{name: "once beats watch", once: true, watchSet: true, watch: 60},
		{name: "once beats schedule", once: true, schedule: "@hourly"},
		{name: "zero watch", watchSet: true, watch: 0, wantErr: true},
		{name: "negative watch", watchSet: true, watch: -5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cycleSchedule(tt.once, tt.schedule, tt.watchSet, tt.watch)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("spec = %q, want %q", got, tt.want)
			}
		})
	}
}
