package models

// Event is a single normalized listing. (Origin, ID) identifies it.
type Event struct {
	Origin     string   `json:"origin"`
	ID         string   `json:"id"`
	URL        string   `json:"url,omitempty"`
	Title      string   `json:"title,omitempty"`
	Subtitle   string   `json:"subtitle,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Info       string   `json:"info,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	AgeLimit   string   `json:"ageLimit,omitempty"`
	Date       string   `json:"date,omitempty"`
	DateUnix   int64    `json:"dateUnix"`
	Time       string   `json:"time,omitempty"`
	EntryTime  string   `json:"entryTime,omitempty"`
	TicketLink string   `json:"ticketLink,omitempty"`
	Price      string   `json:"price,omitempty"`
	Images     []string `json:"images,omitempty"`
	Embeds     []Embed  `json:"embeds,omitempty"`
	Links      []Link   `json:"links,omitempty"`
}

// Key returns the composite primary key of the event
func (e Event) Key() string {
	return e.Origin + ":" + e.ID
}

// Embed is an embedded media player (youtube, spotify, ...)
type Embed struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Link is an outbound link found in an event description
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Collection is the persisted document holding every event of every origin
type Collection struct {
	Events []Event `json:"events"`
}

// EventQuery describes a filter request against the collection
type EventQuery struct {
	Origin      string   `json:"origin,omitempty"`
	Text        string   `json:"text,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	NextWeekend bool     `json:"nextWeekend,omitempty"`
	IDs         []string `json:"ids,omitempty"`
	Limit       int      `json:"limit,omitempty" validate:"gte=0"`
}

// Category is a taxonomy entry exposed by the API
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReconcileResult summarizes one reconciliation pass
type ReconcileResult struct {
	Scraped int `json:"scraped"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// ImportResult summarizes one import of one origin
type ImportResult struct {
	RunID    string `json:"runId"`
	Origin   string `json:"origin"`
	Scraped  int    `json:"scraped"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Failures int    `json:"failures"`
}

// ImportOutcome is the per-origin result of an import of all origins
type ImportOutcome struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Result  *ImportResult `json:"result,omitempty"`
}

// Response is the envelope every API response is wrapped in
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
