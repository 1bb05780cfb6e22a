package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexharl/vulture-events-backend/internal/digest"
	"github.com/alexharl/vulture-events-backend/internal/models"
	"github.com/spf13/cobra"
)

var eventsFlags struct {
	weekend  bool
	category string
	origin   string
	limit    int
}

var eventsCmd = &cobra.Command{
	Use:   "events [text]",
	Short: "Print upcoming events as a chat digest",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsFlags.weekend, "weekend", false, "only events of the next weekend")
	eventsCmd.Flags().StringVar(&eventsFlags.category, "category", "", "category id")
	eventsCmd.Flags().StringVar(&eventsFlags.origin, "origin", "", "origin")
	eventsCmd.Flags().IntVar(&eventsFlags.limit, "limit", 0, "maximum number of events")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	q, heading := eventsQuery(strings.TrimSpace(strings.Join(args, " ")), app.service.Categories())

	events, err := app.service.Filter(ctx, q)
	fmt.Fprintln(cmd.OutOrStdout(), digest.Message(heading, events, err))
	return nil
}

// eventsQuery mirrors the chat commands: free text limits to five results
func eventsQuery(text string, cats []models.Category) (models.EventQuery, string) {
	q := models.EventQuery{Origin: eventsFlags.origin, Limit: eventsFlags.limit}
	heading := digest.UpcomingHeading()

	switch {
	case eventsFlags.weekend:
		q.NextWeekend = true
		heading = digest.WeekendHeading()
	case eventsFlags.category != "":
		q.Categories = []string{eventsFlags.category}
		name := eventsFlags.category
		for _, c := range cats {
			if c.ID == eventsFlags.category {
				name = c.Name
			}
		}
		heading = digest.Heading(name)
	}

	if text != "" {
		q.Text = text
		if q.Limit == 0 {
			q.Limit = 5
		}
		if !q.NextWeekend && len(q.Categories) == 0 {
			heading = digest.SearchHeading(text)
		}
	}
	return q, heading
}
