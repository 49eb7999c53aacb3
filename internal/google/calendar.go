package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"calmirror/internal/models"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
	dateLayout      = "2006-01-02"
)

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The accountName selects the token file written by the auth command (token-<accountName>.json).
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := fmt.Sprintf("token-%s.json", accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	service, err := calendar.NewService(ctx, option.WithTokenSource(config.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &CalendarClient{service: service, logger: logger}, nil
}

// NewClientWithService wraps an existing calendar service.
func NewClientWithService(logger *slog.Logger, service *calendar.Service) *CalendarClient {
	return &CalendarClient{service: service, logger: logger}
}

// ListCalendars returns every calendar on the account's calendar list.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]models.Calendar, error) {
	var calendars []models.Calendar
	err := c.service.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			name := item.SummaryOverride
			if name == "" {
				name = item.Summary
			}
			calendars = append(calendars, models.Calendar{ID: item.Id, Name: name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return calendars, nil
}

// Events fetches the events of calendarID overlapping [start, end).
// Recurring events are returned as individual instances.
func (c *CalendarClient) Events(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "start", start, "end", end)

	var items []*calendar.Event
	err := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		Pages(ctx, func(page *calendar.Events) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Debug("Fetched events from Google Calendar", "count", len(items), "calendarID", calendarID)
	return c.toInternalEvents(items, calendarID), nil
}

// CreateEvent inserts event into calendarID and returns the stored copy.
func (c *CalendarClient) CreateEvent(ctx context.Context, calendarID string, event *models.Event) (*models.Event, error) {
	created, err := c.service.Events.Insert(calendarID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	out := *event
	out.ID = created.Id
	out.CalendarID = calendarID
	return &out, nil
}

// DeleteEvent removes the event. An event that is already gone counts as deleted.
func (c *CalendarClient) DeleteEvent(ctx context.Context, event *models.Event) error {
	err := c.service.Events.Delete(event.CalendarID, event.ID).Context(ctx).Do()
	if isGone(err) {
		c.logger.Debug("Event already deleted", "calendarID", event.CalendarID, "id", event.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// WatchEvents registers a push notification channel for calendarID.
// Notifications are posted to address with the calendar id as the channel token.
func (c *CalendarClient) WatchEvents(ctx context.Context, calendarID, address string, ttl time.Duration) (*calendar.Channel, error) {
	ch := &calendar.Channel{
		Id:      uuid.New().String(),
		Type:    "web_hook",
		Address: address,
		Token:   calendarID,
	}
	if ttl > 0 {
		ch.Params = map[string]string{"ttl": fmt.Sprintf("%d", int64(ttl.Seconds()))}
	}

	created, err := c.service.Events.Watch(calendarID, ch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to watch calendar %s: %w", calendarID, err)
	}
	c.logger.Info("Registered push channel", "calendarID", calendarID, "channelID", created.Id, "expiration", created.Expiration)
	return created, nil
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}

// toInternalEvents converts Google Calendar events to the internal Event model.
func (c *CalendarClient) toInternalEvents(googleEvents []*calendar.Event, calendarID string) []*models.Event {
	var internalEvents []*models.Event
	for _, item := range googleEvents {
		if item.Start == nil || item.End == nil {
			continue
		}

		event := &models.Event{
			ID:          item.Id,
			CalendarID:  calendarID,
			Title:       item.Summary,
			Description: item.Description,
			Location:    item.Location,
		}

		var err error
		if item.Start.DateTime == "" {
			event.AllDay = true
			event.StartTime, err = time.ParseInLocation(dateLayout, item.Start.Date, time.Local)
			if err == nil {
				event.EndTime, err = time.ParseInLocation(dateLayout, item.End.Date, time.Local)
			}
		} else {
			event.StartTime, err = time.Parse(time.RFC3339, item.Start.DateTime)
			if err == nil {
				event.EndTime, err = time.Parse(time.RFC3339, item.End.DateTime)
			}
		}
		if err != nil {
			c.logger.Warn("Skipping event with unparsable time", "calendarID", calendarID, "id", item.Id, "error", err)
			continue
		}

		internalEvents = append(internalEvents, event)
	}
	return internalEvents
}

func toGoogleEvent(event *models.Event) *calendar.Event {
	ge := &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
	}
	if event.AllDay {
		ge.Start = &calendar.EventDateTime{Date: event.StartTime.Format(dateLayout)}
		ge.End = &calendar.EventDateTime{Date: event.EndTime.Format(dateLayout)}
	} else {
		ge.Start = &calendar.EventDateTime{DateTime: event.StartTime.Format(time.RFC3339)}
		ge.End = &calendar.EventDateTime{DateTime: event.EndTime.Format(time.RFC3339)}
	}
	return ge
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists the account names that have a saved token in the working directory.
func GetTokenAccounts() ([]string, error) {
	files, err := os.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
