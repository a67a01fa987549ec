package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/llm"
	"github.com/abhisek/misconcept/internal/store"
	"github.com/abhisek/misconcept/internal/ui/report"
	"github.com/abhisek/misconcept/internal/ui/theme"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect recorded guidance LLM calls",
}

var llmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent LLM events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		purpose, _ := cmd.Flags().GetString("purpose")

		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := e.openStore(cmd)
		if err != nil {
			return err
		}

		events, err := st.EventRepo().QueryLLMEvents(cmd.Context(), store.QueryOpts{Limit: limit, Purpose: purpose})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No LLM events found.")
			return nil
		}

		tbl := report.NewTable("LLM events", "ID", "Timestamp", "Purpose", "Model", "In", "Out", "Ms", "OK").
			AlignRight(0, 4, 5, 6)
		for _, ev := range events {
			tbl.Row(
				ev.ID,
				ev.Timestamp.Local().Format(time.DateTime),
				ev.Purpose,
				truncate(ev.Model, 28),
				ev.InputTokens,
				ev.OutputTokens,
				ev.LatencyMs,
				theme.Flag(ev.Success),
			)
		}
		tbl.Print(out)
		return nil
	},
}

var llmViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "View full request/response for an LLM event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid ID %q: %w", args[0], err)
		}

		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := e.openStore(cmd)
		if err != nil {
			return err
		}

		ev, err := st.EventRepo().GetLLMEvent(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if ev == nil {
			return fmt.Errorf("event %d not found", id)
		}

		out := cmd.OutOrStdout()
		pairs := []string{
			"ID", strconv.Itoa(ev.ID),
			"Time", ev.Timestamp.Local().Format(time.DateTime),
			"Provider", ev.Provider,
			"Model", ev.Model,
			"Purpose", ev.Purpose,
			"Tokens", fmt.Sprintf("%d in / %d out", ev.InputTokens, ev.OutputTokens),
			"Latency", fmt.Sprintf("%dms", ev.LatencyMs),
			"Success", theme.Flag(ev.Success),
		}
		if ev.ErrorMessage != "" {
			pairs = append(pairs, "Error", theme.Bad.Render(ev.ErrorMessage))
		}
		report.KeyValues(out, pairs...)

		sep := theme.Rule.Render(strings.Repeat("─", 60))
		for _, sec := range []struct{ name, body string }{
			{"REQUEST", ev.RequestBody},
			{"RESPONSE", ev.ResponseBody},
		} {
			fmt.Fprintln(out)
			fmt.Fprintln(out, sep)
			fmt.Fprintln(out, theme.Header.Render(sec.name))
			fmt.Fprintln(out, sep)
			if sec.body == "" {
				fmt.Fprintln(out, theme.Hint.Render("(not captured)"))
				continue
			}
			fmt.Fprintln(out, sec.body)
		}
		return nil
	},
}

var llmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated LLM token usage and estimated cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		st, err := e.openStore(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		stats, err := st.EventRepo().LLMUsageByPurpose(ctx)
		if err != nil {
			return fmt.Errorf("query usage: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(stats) == 0 {
			fmt.Fprintln(out, "No LLM usage recorded yet.")
			return nil
		}

		usage := report.NewTable("Usage by purpose", "Purpose", "Calls", "Input", "Output", "Total", "Avg Ms").
			AlignRight(1, 2, 3, 4, 5)
		var totalCalls, totalIn, totalOut int
		for _, u := range stats {
			usage.Row(u.Purpose, u.Calls, u.InputTokens, u.OutputTokens, u.InputTokens+u.OutputTokens, u.AvgLatencyMs)
			totalCalls += u.Calls
			totalIn += u.InputTokens
			totalOut += u.OutputTokens
		}
		usage.Row("TOTAL", totalCalls, totalIn, totalOut, totalIn+totalOut, "")
		usage.Print(out)

		modelUsage, err := st.EventRepo().LLMUsageByModel(ctx)
		if err != nil {
			return fmt.Errorf("query model usage: %w", err)
		}
		if len(modelUsage) == 0 {
			return nil
		}

		costs := report.NewTable("Estimated cost (USD)", "Model", "Calls", "Input", "Output", "Cost").
			AlignRight(1, 2, 3, 4)
		var totalCost float64
		var unknownModels []string
		for _, mu := range modelUsage {
			cost := llm.LookupCost(mu.Model)
			if cost == nil {
				unknownModels = append(unknownModels, mu.Model)
				costs.Row(truncate(mu.Model, 32), mu.Calls, mu.InputTokens, mu.OutputTokens, "?")
				continue
			}
			c := cost.Cost(mu.InputTokens, mu.OutputTokens)
			totalCost += c
			costs.Row(truncate(mu.Model, 32), mu.Calls, mu.InputTokens, mu.OutputTokens, formatCost(c))
		}
		label := "TOTAL"
		if len(unknownModels) > 0 {
			label = "TOTAL (partial)"
		}
		costs.Row(label, "", "", "", formatCost(totalCost))

		fmt.Fprintln(out)
		costs.Print(out)
		if len(unknownModels) > 0 {
			fmt.Fprintf(out, "\nPricing unavailable for: %s\n", strings.Join(unknownModels, ", "))
		}
		return nil
	},
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	llmListCmd.Flags().IntP("limit", "n", 20, "Number of events to show")
	llmListCmd.Flags().StringP("purpose", "p", "", "Filter by purpose (e.g. guidance)")

	llmCmd.AddCommand(llmListCmd)
	llmCmd.AddCommand(llmViewCmd)
	llmCmd.AddCommand(llmStatsCmd)
}
