package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/analyzer"
	"github.com/abhisek/misconcept/internal/ui/report"
	"github.com/abhisek/misconcept/internal/ui/theme"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse one answer against the ideal answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req analyzer.AnalyzeRequest
		req.Question, _ = cmd.Flags().GetString("question")
		req.IdealAnswer, _ = cmd.Flags().GetString("ideal")
		req.UserAnswer, _ = cmd.Flags().GetString("answer")
		req.ItemID, _ = cmd.Flags().GetString("item")

		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		svc, err := e.analyzer(cmd)
		if err != nil {
			return err
		}

		res, err := svc.Analyze(cmd.Context(), req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, res)
		}

		mis := res.Misconception
		sev := string(mis.Severity)
		bucket := string(res.Difficulty.Bucket)
		source := "lexical proxy"
		if res.Difficulty.HasIRT {
			source = fmt.Sprintf("IRT a=%.2f b=%.2f", res.Difficulty.A, res.Difficulty.B)
		}

		fmt.Fprintln(out, theme.Title.Render("Analysis"))
		report.KeyValues(out,
			"Similarity", fmt.Sprintf("%.4f (question vs ideal %.4f)", res.Similarity.UserVsIdeal, res.Similarity.QuestionVsIdeal),
			"Misconception", fmt.Sprintf("%s (confidence %.3f)", mis.Label, mis.Confidence),
			"Risk", fmt.Sprintf("%.3f %s", mis.Risk, theme.Severity(sev).Render(sev)),
			"Difficulty", fmt.Sprintf("%.3f %s, %s", res.Difficulty.DifficultyNorm, theme.Severity(bucket).Render(bucket), source),
			"Answer score", fmt.Sprintf("%.3f", res.AnswerScore),
		)

		fmt.Fprintln(out)
		fmt.Fprintln(out, theme.Title.Render("Guidance"), theme.Hint.Render("("+res.Guidance.Source+")"))
		for _, tip := range res.Guidance.Tips {
			fmt.Fprintf(out, "  • %s\n", tip)
		}
		printWarnings(out, mis.Warnings)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringP("question", "q", "", "Question text")
	analyzeCmd.Flags().StringP("ideal", "i", "", "Ideal answer text")
	analyzeCmd.Flags().StringP("answer", "a", "", "Student answer text")
	analyzeCmd.Flags().String("item", "", "Calibrated item ID of the question")
	analyzeCmd.Flags().Bool("json", false, "Print the analysis as JSON")
	_ = analyzeCmd.MarkFlagRequired("question")
	_ = analyzeCmd.MarkFlagRequired("ideal")
	_ = analyzeCmd.MarkFlagRequired("answer")
}
