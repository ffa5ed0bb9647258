// Command search queries the configured grant providers directly, without the
// API or a database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grantmatch/internal/config"
	"github.com/david/grantmatch/internal/grants"
	"github.com/david/grantmatch/internal/models"
)

var (
	sectors  []string
	sicCodes []string
	status   string
	page     int
	pageSize int
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search every enabled grant provider",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSearch,
}

var getCmd = &cobra.Command{
	Use:   "get <source:externalId>",
	Short: "Fetch one grant's details",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.Flags().StringSliceVar(&sectors, "sector", nil, "SIC section letters (A-U)")
	rootCmd.Flags().StringSliceVar(&sicCodes, "sic", nil, "SIC codes")
	rootCmd.Flags().StringVar(&status, "status", "", "open, closed, upcoming or all")
	rootCmd.Flags().IntVar(&page, "page", 1, "page number")
	rootCmd.Flags().IntVar(&pageSize, "page-size", models.DefaultPageSize, "results per page")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(getCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRegistry() (*grants.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return grants.BuildRegistry(cfg, grants.DefaultFactory)
}

func runSearch(cmd *cobra.Command, args []string) error {
	params := models.GrantSearchParams{
		SICCodes: sicCodes,
		Status:   models.StatusFilter(strings.ToLower(status)),
		Page:     page,
		PageSize: pageSize,
	}
	if len(args) == 1 {
		params.Query = args[0]
	}
	for _, s := range sectors {
		params.Sectors = append(params.Sectors, strings.ToUpper(s))
	}
	if params.Status != "" && !params.Status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	registry, err := buildRegistry()
	if err != nil {
		return err
	}
	res := registry.SearchAll(context.Background(), params)

	if asJSON {
		return printJSON(cmd, res)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"ID", "Title", "Status", "Closes", "Max Award", "Funder"})
	for _, g := range res.Grants {
		t.AppendRow(table.Row{g.ID, truncate(g.Title, 60), g.Status, formatDate(g), formatAmount(g.AmountMax, g.Currency), truncate(g.FundingBody, 30)})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("page %d/%d, %d results", res.Page, res.TotalPages, res.TotalResults)})
	t.Render()

	for source, n := range res.SourceBreakdown {
		cmd.Printf("%s: %d upstream results\n", source, n)
	}
	for _, source := range res.FailedSources {
		cmd.Printf("%s: failed\n", source)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	registry, err := buildRegistry()
	if err != nil {
		return err
	}
	detail, err := registry.GetByID(context.Background(), args[0])
	if err != nil {
		return err
	}
	if detail == nil {
		return fmt.Errorf("grant %s not found", args[0])
	}
	if asJSON {
		return printJSON(cmd, detail)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendRows([]table.Row{
		{"Title", detail.Title},
		{"Status", detail.Status},
		{"Funder", detail.FundingBody},
		{"Closes", formatDate(detail.NormalizedGrant)},
		{"Max Award", formatAmount(detail.AmountMax, detail.Currency)},
		{"Apply", detail.ApplicationURL},
		{"Description", truncate(detail.Description, 200)},
		{"Eligibility", truncate(detail.EligibilityCriteria, 200)},
	})
	t.Render()
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func formatDate(g models.NormalizedGrant) string {
	if g.CloseDate == nil {
		return "-"
	}
	return g.CloseDate.Format("2006-01-02")
}

func formatAmount(v *float64, currency string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%s %.0f", currency, *v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
