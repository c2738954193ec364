package handlers

import (
	"context"
	"fmt"

	"cyberbrief/internal/logger"

	"github.com/spf13/cobra"
)

// NewDigestCmd creates the digest command for running the pipeline once.
func NewDigestCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Run the digest pipeline for one user",
		Long: `Run the full digest pipeline for a single user.

The pipeline will:
  • Scrape the user's RSS/Atom feeds and match articles against keywords
  • Fetch article content and extract entities and industry signals
  • Extract CVE identifiers and enrich them from NVD and the CISA KEV catalog
  • Cluster related articles into stories and generate AI briefings
  • Rebuild the daily, weekly, and monthly intelligence reports
  • Match enriched CVEs against the user's technology stack

Stage failures are isolated: a failed stage is reported in the result without
aborting the rest of the run.

Examples:
  # Run the pipeline for a user
  cyberbrief digest --user 4f7c2c1a-9a3e-4a58-b7d1-0f6f2a3b9c4d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(cmd.Context(), userID)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID to run the digest for (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runDigest(ctx context.Context, userID string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	result := app.pipeline.Run(ctx, userID)

	logger.Info("digest run finished",
		"user_id", result.UserID,
		"scraped", result.Scraped,
		"matched", result.Matched,
		"summarized", result.Summarized,
		"errors", len(result.Errors))

	fmt.Printf("Scraped:    %d\n", result.Scraped)
	fmt.Printf("Matched:    %d\n", result.Matched)
	fmt.Printf("Summarized: %d\n", result.Summarized)
	if len(result.Errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return nil
}
