package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [origins...]",
	Short: "Import venues once",
	Long:  `Import the given origins, or every enabled origin, and print the result`,
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	outcomes := app.service.ImportAll(ctx, args...)

	origins := make([]string, 0, len(outcomes))
	for origin := range outcomes {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	failed := 0
	out := cmd.OutOrStdout()
	for _, origin := range origins {
		outcome := outcomes[origin]
		if !outcome.Success {
			failed++
			fmt.Fprintf(out, "%-10s FAILED: %s\n", origin, outcome.Message)
			continue
		}
		r := outcome.Result
		fmt.Fprintf(out, "%-10s scraped=%d created=%d updated=%d deleted=%d failures=%d\n",
			origin, r.Scraped, r.Created, r.Updated, r.Deleted, r.Failures)
	}

	if failed > 0 {
		return errors.Errorf("%d of %d imports failed", failed, len(origins))
	}
	return nil
}
