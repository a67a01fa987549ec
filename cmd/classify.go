package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/analyzer"
	"github.com/abhisek/misconcept/internal/ui/report"
	"github.com/abhisek/misconcept/internal/ui/theme"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [answer...]",
	Short: "Label answers with the nearest misconception cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		texts := args
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			lines, err := readLines(path)
			if err != nil {
				return err
			}
			texts = append(texts, lines...)
		}
		if len(texts) == 0 {
			return fmt.Errorf("nothing to classify: pass answers as arguments or --file")
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

		item, _ := cmd.Flags().GetString("item")
		preds := make([]analyzer.Prediction, len(texts))
		for i, t := range texts {
			if preds[i], err = svc.PredictMisconception(cmd.Context(), t, item); err != nil {
				return fmt.Errorf("answer %d: %w", i+1, err)
			}
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, preds)
		}

		tbl := report.NewTable("", "Answer", "Label", "Cluster", "Confidence", "Risk", "Severity").AlignRight(2, 3, 4)
		for i, p := range preds {
			cid := "-"
			if p.ClusterID != nil {
				cid = fmt.Sprint(*p.ClusterID)
			}
			sev := string(p.Severity)
			tbl.Row(truncate(texts[i], 48), p.Label, cid, p.Confidence, p.Risk, theme.Severity(sev).Render(sev))
		}
		tbl.Print(out)
		if len(preds) > 0 {
			printWarnings(out, preds[0].Warnings)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringP("file", "f", "", "Read answers from a file, one per line")
	classifyCmd.Flags().String("item", "", "Item the answers respond to; labels never seen on it are flagged unseen")
	classifyCmd.Flags().Bool("json", false, "Print predictions as JSON")
}
