package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/ui/report"
	"github.com/abhisek/misconcept/internal/ui/theme"
)

var difficultyCmd = &cobra.Command{
	Use:   "difficulty [question]",
	Short: "Estimate question difficulty from the calibration or its text",
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		itemID, _ := cmd.Flags().GetString("item")
		if question == "" && itemID == "" {
			return fmt.Errorf("pass a question or --item")
		}

		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		svc, err := e.analyzer(cmd)
		if err != nil {
			return err
		}

		est, err := svc.EstimateDifficulty(cmd.Context(), question, itemID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, est)
		}

		bucket := string(est.Bucket)
		pairs := []string{
			"Bucket", theme.Severity(bucket).Render(bucket),
			"Normalised", fmt.Sprintf("%.3f", est.DifficultyNorm),
		}
		if est.HasIRT {
			pairs = append(pairs, "Item", est.ItemID, "a", fmt.Sprintf("%.3f", est.A), "b", fmt.Sprintf("%.3f", est.B))
		} else {
			pairs = append(pairs, "Source", theme.Hint.Render("lexical proxy (item not calibrated)"))
		}
		report.KeyValues(out, pairs...)
		return nil
	},
}

func init() {
	difficultyCmd.Flags().String("item", "", "Calibrated item ID")
	difficultyCmd.Flags().Bool("json", false, "Print the estimate as JSON")
}
