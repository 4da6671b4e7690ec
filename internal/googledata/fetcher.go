// Package googledata reduces a user's Gmail inbox and Google Calendar to the
// short plain-text summaries consumed by the briefing pipeline.
package googledata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tyemirov/briefing/internal/authkit"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	// NotLoggedInMessage is returned instead of data when the session has no credentials.
	NotLoggedInMessage = "⚠️ Not logged in to Google."
	// NoMailMessage is returned when the inbox listing is empty.
	NoMailMessage = "No unread emails."
	// NoEventsMessage is returned when no listed event starts today.
	NoEventsMessage = "You have no events today."

	untitledEvent = "No title"
	mailLimit     = 10
	eventLimit    = 5
	primaryID     = "primary"
	gmailUser     = "me"
	inboxLabel    = "INBOX"
)

var (
	// ErrMailFetch wraps Gmail API failures.
	ErrMailFetch = errors.New("googledata.mail_failed")
	// ErrCalendarFetch wraps Calendar API failures.
	ErrCalendarFetch = errors.New("googledata.calendar_failed")
)

// Config tunes the fetcher. Zero values select Google's endpoints, the local
// time zone, and the system clock.
type Config struct {
	Location         *time.Location
	GmailEndpoint    string
	CalendarEndpoint string
	// HTTPClient carries token refresh and API calls; nil uses http.DefaultClient.
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Fetcher reads mail and calendar data on behalf of a session.
type Fetcher struct {
	location         *time.Location
	gmailEndpoint    string
	calendarEndpoint string
	httpClient       *http.Client
	clock            func() time.Time
	logger           *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(config Config) *Fetcher {
	location := config.Location
	if location == nil {
		location = time.Local
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		location:         location,
		gmailEndpoint:    config.GmailEndpoint,
		calendarEndpoint: config.CalendarEndpoint,
		httpClient:       config.HTTPClient,
		clock:            clock,
		logger:           logger,
	}
}

// FetchMail returns the snippets of up to ten inbox messages joined by spaces.
// Refreshed tokens are written back into credentials.
func (fetcher *Fetcher) FetchMail(ctx context.Context, credentials *authkit.Credentials) (string, error) {
	if !hasCredentials(credentials) {
		return NotLoggedInMessage, nil
	}
	options := fetcher.clientOptions(ctx, credentials, fetcher.gmailEndpoint)
	service, err := gmail.NewService(ctx, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMailFetch, err)
	}

	listing, listErr := service.Users.Messages.List(gmailUser).
		LabelIds(inboxLabel).
		MaxResults(mailLimit).
		Context(ctx).
		Do()
	if listErr != nil {
		return "", fmt.Errorf("%w: list messages: %v", ErrMailFetch, listErr)
	}
	if len(listing.Messages) == 0 {
		return NoMailMessage, nil
	}

	snippets := make([]string, 0, len(listing.Messages))
	for _, message := range listing.Messages {
		if len(snippets) == mailLimit {
			break
		}
		detail, getErr := service.Users.Messages.Get(gmailUser, message.Id).
			Context(ctx).
			Do()
		if getErr != nil {
			return "", fmt.Errorf("%w: get message %s: %v", ErrMailFetch, message.Id, getErr)
		}
		snippets = append(snippets, detail.Snippet)
	}
	fetcher.logger.Debug("mail fetched", zap.String("code", "googledata.mail.fetched"), zap.Int("messages", len(snippets)))
	return strings.Join(snippets, " "), nil
}

// FetchCalendar returns one "<start>: <title>" line for each of the next five
// primary-calendar events that start today.
func (fetcher *Fetcher) FetchCalendar(ctx context.Context, credentials *authkit.Credentials) (string, error) {
	if !hasCredentials(credentials) {
		return NotLoggedInMessage, nil
	}
	options := fetcher.clientOptions(ctx, credentials, fetcher.calendarEndpoint)
	service, err := calendar.NewService(ctx, options...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCalendarFetch, err)
	}

	now := fetcher.clock()
	events, listErr := service.Events.List(primaryID).
		TimeMin(now.UTC().Format(time.RFC3339)).
		MaxResults(eventLimit).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if listErr != nil {
		return "", fmt.Errorf("%w: list events: %v", ErrCalendarFetch, listErr)
	}

	today := now.In(fetcher.location).Format(time.DateOnly)
	lines := make([]string, 0, len(events.Items))
	for _, event := range events.Items {
		start, day := fetcher.eventStart(event)
		if start == "" || day != today {
			continue
		}
		title := event.Summary
		if strings.TrimSpace(title) == "" {
			title = untitledEvent
		}
		lines = append(lines, start+": "+title)
	}
	fetcher.logger.Debug("calendar fetched",
		zap.String("code", "googledata.calendar.fetched"),
		zap.Int("listed", len(events.Items)),
		zap.Int("today", len(lines)))
	if len(lines) == 0 {
		return NoEventsMessage, nil
	}
	return strings.Join(lines, "\n"), nil
}

// eventStart returns the raw start value and its calendar day in the fetcher's location.
func (fetcher *Fetcher) eventStart(event *calendar.Event) (string, string) {
	if event == nil || event.Start == nil {
		return "", ""
	}
	if event.Start.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, event.Start.DateTime)
		if err != nil {
			return event.Start.DateTime, prefixDay(event.Start.DateTime)
		}
		return event.Start.DateTime, parsed.In(fetcher.location).Format(time.DateOnly)
	}
	if event.Start.Date != "" {
		return event.Start.Date, prefixDay(event.Start.Date)
	}
	return "", ""
}

func prefixDay(value string) string {
	if len(value) < len(time.DateOnly) {
		return value
	}
	return value[:len(time.DateOnly)]
}

func (fetcher *Fetcher) clientOptions(ctx context.Context, credentials *authkit.Credentials, endpoint string) []option.ClientOption {
	options := []option.ClientOption{option.WithHTTPClient(fetcher.authorizedClient(ctx, credentials))}
	if endpoint != "" {
		options = append(options, option.WithEndpoint(endpoint))
	}
	return options
}

func hasCredentials(credentials *authkit.Credentials) bool {
	return credentials != nil && credentials.AccessToken != ""
}
