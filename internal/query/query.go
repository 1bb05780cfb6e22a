// Package query filters and orders the persisted event collection.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alexharl/vulture-events-backend/internal/apperr"
	"github.com/alexharl/vulture-events-backend/internal/models"
)

const (
	DefaultLimit = 10
	MaxIDs       = 100
)

// Engine evaluates EventQuery values against a collection
type Engine struct {
	Location     *time.Location
	DefaultLimit int
	MaxIDs       int
	Now          func() time.Time
}

// NewEngine creates an engine with the given zone; zero limits use the package defaults
func NewEngine(loc *time.Location, defaultLimit, maxIDs int) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxIDs <= 0 {
		maxIDs = MaxIDs
	}
	return &Engine{Location: loc, DefaultLimit: defaultLimit, MaxIDs: maxIDs, Now: time.Now}
}

// Window is an inclusive range of epoch seconds
type Window struct {
	Start int64
	End   int64
}

// Contains reports whether ts lies inside the window
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts <= w.End
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().In(e.Location)
	}
	return e.Now().In(e.Location)
}

// StartOfToday returns midnight of the current day
func (e *Engine) StartOfToday() int64 {
	n := e.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, e.Location).Unix()
}

// WeekendWindow returns Friday 00:00 minus one hour until Sunday 23:59:59
// plus one hour of the current week. Weeks start on Sunday, so on a
// Sunday the window is the coming weekend.
func (e *Engine) WeekendWindow() Window {
	n := e.now()
	midnight := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, e.Location)
	weekday := int(n.Weekday())

	friday := midnight.AddDate(0, 0, 5-weekday)
	endOfSunday := midnight.AddDate(0, 0, 8-weekday).Add(-time.Second)

	return Window{
		Start: friday.Add(-time.Hour).Unix(),
		End:   endOfSunday.Add(time.Hour).Unix(),
	}
}

// ValidateIDs rejects oversized id lists before any store access
func (e *Engine) ValidateIDs(ids []string) error {
	limit := e.MaxIDs
	if limit <= 0 {
		limit = MaxIDs
	}
	if len(ids) > limit {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("Too many ids, max %d allowed", limit))
	}
	return nil
}

// Filter applies q to events and returns the matches ordered by date. The
// input slice is not modified.
func (e *Engine) Filter(events []models.Event, q models.EventQuery) ([]models.Event, error) {
	if len(q.IDs) > 0 {
		return e.ByIDs(events, q.IDs)
	}

	baseline := e.StartOfToday()
	match := textMatcher(q.Text)

	var weekend Window
	if q.NextWeekend {
		weekend = e.WeekendWindow()
	}

	wanted := make(map[string]bool, len(q.Categories))
	for _, c := range q.Categories {
		if c = strings.TrimSpace(c); c != "" {
			wanted[c] = true
		}
	}

	out := make([]models.Event, 0)
	for _, ev := range events {
		if ev.DateUnix < baseline {
			continue
		}
		if q.Origin != "" && ev.Origin != q.Origin {
			continue
		}
		if len(wanted) > 0 && !intersects(ev.Categories, wanted) {
			continue
		}
		if match != nil && !match(searchText(ev)) {
			continue
		}
		if q.NextWeekend && !weekend.Contains(ev.DateUnix) {
			continue
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateUnix < out[j].DateUnix
	})

	limit := q.Limit
	if limit <= 0 {
		limit = e.DefaultLimit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ByIDs returns the events with the given ids in input order. Unknown ids
// are skipped. No other filter applies.
func (e *Engine) ByIDs(events []models.Event, ids []string) ([]models.Event, error) {
	if err := e.ValidateIDs(ids); err != nil {
		return nil, err
	}

	byID := make(map[string]models.Event, len(events))
	for _, ev := range events {
		if _, ok := byID[ev.ID]; !ok {
			byID[ev.ID] = ev
		}
	}

	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetByID returns the first event with the given id
func GetByID(events []models.Event, id string) (*models.Event, bool) {
	for i := range events {
		if events[i].ID == id {
			ev := events[i]
			return &ev, true
		}
	}
	return nil, false
}

func intersects(categories []string, wanted map[string]bool) bool {
	for _, c := range categories {
		if wanted[c] {
			return true
		}
	}
	return false
}

func searchText(ev models.Event) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{ev.Title, ev.Subtitle, ev.Info} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// textMatcher compiles text as a case-insensitive pattern; text that is
// not a valid pattern is matched literally.
func textMatcher(text string) func(string) bool {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + text)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(text))
	}
	return re.MatchString
}
