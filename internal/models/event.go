package models

import "time"

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID          string    // Provider identifier, used as the handle for deletion
	CalendarID  string    // Calendar the event lives in, as routed by the gateway
	Title       string    // Summary or title of the event
	Description string    // Detailed description of the event
	Location    string    // Location of the event
	StartTime   time.Time // Start time of the event
	EndTime     time.Time // End time of the event
	AllDay      bool      // Date-only event; StartTime/EndTime are midnights
}

// Calendar is a calendar the authenticated principal can see.
type Calendar struct {
	ID   string
	Name string
}
