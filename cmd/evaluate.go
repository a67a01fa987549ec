package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/evaluation"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/ui/report"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Offline quality reports",
}

var evaluateRecoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Simulate responses from known parameters and check calibration recovers them",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		sim := irt.DefaultSimulateConfig()
		sim.Students, _ = cmd.Flags().GetInt("students")
		sim.Items, _ = cmd.Flags().GetInt("items")
		sim.Seed, _ = cmd.Flags().GetUint64("seed")
		sim.MissingRate, _ = cmd.Flags().GetFloat64("missing")

		m, truth, err := irt.Simulate(sim)
		if err != nil {
			return err
		}
		e.log.Info().Int("students", sim.Students).Int("items", sim.Items).Msg("simulated responses")

		bar := report.NewProgress(os.Stderr, e.cfg.IRT.MaxIterations, "calibrating")
		cfg := e.cfg.IRT
		cfg.OnIteration = func(s irt.IterationStats) { bar.Set(s.Iteration) }
		cal, err := irt.Calibrate(cmd.Context(), m, cfg)
		bar.Finish()
		if err != nil {
			return err
		}

		rec, err := evaluation.RecoverCalibration(cal, truth)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, rec)
		}
		tbl := report.NewTable("Parameter recovery", "Parameter", "n", "Bias", "RMSE", "Max |err|", "r").
			AlignRight(1, 2, 3, 4, 5)
		for _, row := range []struct {
			name string
			r    evaluation.Recovery
		}{
			{"a (discrimination)", rec.Discrimination},
			{"b (difficulty)", rec.Difficulty},
			{"θ (ability)", rec.Ability},
		} {
			tbl.Row(row.name, row.r.N, row.r.Bias, row.r.RMSE, row.r.MaxAbsError, row.r.Correlation)
		}
		tbl.Print(out)
		printWarnings(out, cal.Warnings)
		return nil
	},
}

var evaluateClassificationCmd = &cobra.Command{
	Use:   "classification <labelled.csv>",
	Short: "Precision, recall and F1 of misconception labels",
	Long: `Score misconception labels against ground truth. The CSV needs a "truth"
column and either a "predicted" column or a "text" column, in which case
each text is classified with the current taxonomy. An optional "item_id"
column enables the per-item unseen-label check.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, err := readColumns(args[0])
		if err != nil {
			return err
		}
		truth, ok := cols["truth"]
		if !ok {
			return fmt.Errorf("%s: missing truth column", args[0])
		}

		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		predicted, ok := cols["predicted"]
		if !ok {
			texts, ok := cols["text"]
			if !ok {
				return fmt.Errorf("%s: need a predicted or text column", args[0])
			}
			svc, err := e.analyzer(cmd)
			if err != nil {
				return err
			}
			items := cols["item_id"]
			predicted = make([]string, len(texts))
			for i, t := range texts {
				var item string
				if i < len(items) {
					item = items[i]
				}
				p, err := svc.PredictMisconception(cmd.Context(), t, item)
				if err != nil {
					return fmt.Errorf("row %d: %w", i+2, err)
				}
				predicted[i] = p.Label
			}
		}

		rep, err := evaluation.Classification(predicted, truth)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, rep)
		}
		tbl := report.NewTable("Classification report", "Label", "Precision", "Recall", "F1", "Support").
			AlignRight(1, 2, 3, 4)
		for _, c := range rep.Classes {
			tbl.Row(c.Label, c.Precision, c.Recall, c.F1, c.Support)
		}
		tbl.Print(out)
		fmt.Fprintln(out)
		report.KeyValues(out,
			"Accuracy", fmt.Sprintf("%.3f", rep.Accuracy),
			"Macro F1", fmt.Sprintf("%.3f", rep.MacroF1),
			"Weighted F1", fmt.Sprintf("%.3f", rep.WeightedF1),
			"Samples", fmt.Sprint(rep.Samples),
		)
		return nil
	},
}

var evaluateClusteringCmd = &cobra.Command{
	Use:   "clustering <labelled.csv>",
	Short: "Coherence of a labelling of answers in embedding space",
	Long: `Embed the "text" column and score how well the "label" column separates
the answers, with the same silhouette and Calinski-Harabasz metrics the
clusterer reports.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, err := readColumns(args[0])
		if err != nil {
			return err
		}
		texts, okT := cols["text"]
		labels, okL := cols["label"]
		if !okT || !okL {
			return fmt.Errorf("%s: need text and label columns", args[0])
		}

		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		emb, err := e.embedder(cmd.Context())
		if err != nil {
			return err
		}
		vecs, err := emb.Embed(cmd.Context(), texts)
		if err != nil {
			return fmt.Errorf("embed texts: %w", err)
		}

		names := slices.Clone(labels)
		slices.Sort(names)
		names = slices.Compact(names)
		assignment := make([]int, len(labels))
		for i, l := range labels {
			assignment[i], _ = slices.BinarySearch(names, l)
		}

		rep, err := evaluation.Clustering(vecs, assignment)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, rep)
		}
		tbl := report.NewTable("Clustering report", "Label", "Size").AlignRight(1)
		for _, s := range rep.Sizes {
			tbl.Row(names[s.Label], s.Size)
		}
		tbl.Print(out)
		fmt.Fprintln(out)
		report.KeyValues(out,
			"Points", fmt.Sprint(rep.Points),
			"Silhouette", rep.Silhouette.String(),
			"Calinski-Harabasz", rep.CalinskiHarabasz.String(),
		)
		return nil
	},
}

// readColumns reads a headed CSV into columns keyed by lower-cased header.
func readColumns(path string) (map[string][]string, error) {
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	cr := csv.NewReader(in)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cols := make(map[string][]string, len(header))
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for i, h := range header {
			key := strings.ToLower(strings.TrimSpace(h))
			cols[key] = append(cols[key], strings.TrimSpace(rec[i]))
		}
	}
	return cols, nil
}

func init() {
	evaluateRecoveryCmd.Flags().Int("students", 2000, "Simulated students")
	evaluateRecoveryCmd.Flags().Int("items", 40, "Simulated items")
	evaluateRecoveryCmd.Flags().Uint64("seed", 1, "Simulation seed")
	evaluateRecoveryCmd.Flags().Float64("missing", 0, "Share of responses left missing")

	for _, c := range []*cobra.Command{evaluateRecoveryCmd, evaluateClassificationCmd, evaluateClusteringCmd} {
		c.Flags().Bool("json", false, "Print the report as JSON")
		evaluateCmd.AddCommand(c)
	}
}
