// Package digest renders events as Telegram MarkdownV2 chat messages.
package digest

import (
	"regexp"
	"strings"

	"github.com/alexharl/vulture-events-backend/internal/models"
)

const (
	NoEventsFound = "Keine Events gefunden"
	LoadFailed    = "Fehler beim Laden der Events"
)

var markdownV2Special = regexp.MustCompile("[_*\\[\\]()~`>#+\\-=|{}.!]")

// EscapeMarkdownV2 escapes every MarkdownV2 control character
func EscapeMarkdownV2(text string) string {
	return markdownV2Special.ReplaceAllString(text, `\$0`)
}

// Heading is a bold title line followed by a blank line
func Heading(title string) string {
	return "*" + EscapeMarkdownV2(title) + "*\n\n"
}

// WeekendHeading introduces the next weekend listing
func WeekendHeading() string { return Heading("Events am Wochenende") }

// UpcomingHeading introduces an unfiltered listing
func UpcomingHeading() string { return Heading("Nächste Events") }

// SearchHeading introduces the results of a text search
func SearchHeading(text string) string {
	return Heading("Events für '" + text + "'")
}

// Event renders a single event block
func Event(e models.Event) string {
	var b strings.Builder
	b.WriteString("*[" + EscapeMarkdownV2(e.Title) + "](" + EscapeMarkdownV2(e.URL) + ")*\n")

	if e.Subtitle != "" {
		b.WriteString(EscapeMarkdownV2(e.Subtitle) + "\n")
	}

	date := "📅 " + e.Date
	if e.Time != "" {
		date += " " + e.Time
	}
	b.WriteString(EscapeMarkdownV2(date) + "\n")

	if len(e.Locations) > 0 {
		b.WriteString("🏠 " + EscapeMarkdownV2(strings.Join(e.Locations, ", ")) + "\n")
	}
	if e.Price != "" {
		b.WriteString("💰 " + EscapeMarkdownV2(e.Price) + "\n")
	}
	return b.String()
}

// Events renders a listing, blocks separated by a blank line
func Events(events []models.Event) string {
	if len(events) == 0 {
		return NoEventsFound
	}
	var b strings.Builder
	for _, e := range events {
		b.WriteString(Event(e))
		b.WriteString("\n")
	}
	return b.String()
}

// Message renders heading plus listing, or the load failure text when err is set
func Message(heading string, events []models.Event, err error) string {
	if err != nil {
		return heading + LoadFailed
	}
	return heading + Events(events)
}
