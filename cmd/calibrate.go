package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/difficulty"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/store"
	"github.com/abhisek/misconcept/internal/ui/report"
	"github.com/abhisek/misconcept/internal/ui/theme"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate <responses.csv>",
	Short: "Fit 2PL item parameters to a correctness matrix",
	Long: `Fit discrimination (a) and difficulty (b) for every item by marginal maximum
likelihood. The CSV is either long (student_id,item_id,correct) or wide
(student column followed by one column per item). Use "-" for stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().Int("max-iter", 0, "Maximum iterations (0 = config default)")
	calibrateCmd.Flags().Float64("tol", 0, "Convergence tolerance (0 = config default)")
	calibrateCmd.Flags().Int("workers", 0, "Parallel workers (0 = config default)")
	calibrateCmd.Flags().StringP("export", "o", "", "Write the calibration artifact to this file")
	calibrateCmd.Flags().Bool("no-save", false, "Do not store the calibration")
	calibrateCmd.Flags().Bool("json", false, "Print the calibration as JSON")
	calibrateCmd.Flags().Bool("quiet", false, "Hide the progress bar")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	m, err := irt.ParseCSV(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("parse responses: %w", err)
	}

	cfg := e.cfg.IRT
	if v, _ := cmd.Flags().GetInt("max-iter"); v > 0 {
		cfg.MaxIterations = v
	}
	if v, _ := cmd.Flags().GetFloat64("tol"); v > 0 {
		cfg.Tolerance = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}

	e.log.Info().
		Int("students", m.NumStudents()).
		Int("items", m.NumItems()).
		Float64("missing_rate", m.MissingRate()).
		Msg("calibrating")

	quiet, _ := cmd.Flags().GetBool("quiet")
	var bar *report.Progress
	if !quiet {
		bar = report.NewProgress(os.Stderr, cfg.MaxIterations, "calibrating")
	}
	cfg.OnIteration = func(s irt.IterationStats) {
		e.log.Debug().
			Int("iteration", s.Iteration).
			Float64("max_change", s.MaxChange).
			Float64("log_likelihood", s.LogLikelihood).
			Msg("iteration")
		if bar != nil {
			bar.Set(s.Iteration)
		}
	}

	cal, err := irt.Calibrate(ctx, m, cfg)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave {
		st, err := e.openStore(cmd)
		if err != nil {
			return err
		}
		if err := st.CalibrationRepo().Save(ctx, cal); err != nil {
			return fmt.Errorf("save calibration: %w", err)
		}
		e.log.Info().Str("calibration_id", cal.ID.String()).Msg("calibration saved")
	}

	if path, _ := cmd.Flags().GetString("export"); path != "" {
		if err := exportFile(path, func(f *os.File) error { return store.WriteCalibration(f, cal) }); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, cal)
	}

	buckets, err := e.cfg.Bucketizer()
	if err != nil {
		return err
	}
	tbl := report.NewTable(fmt.Sprintf("Calibration %s", cal.ID), "Item", "a", "b", "SE(a)", "SE(b)", "p", "n", "Bucket", "OK").
		AlignRight(1, 2, 3, 4, 5, 6)
	for _, it := range cal.Items {
		bucket := buckets.Bucketize(difficulty.Normalize(it.Difficulty))
		tbl.Row(it.ItemID, it.Discrimination, it.Difficulty, it.SEDiscrimination, it.SEDifficulty,
			it.PValue, it.Observed, theme.Severity(string(bucket)).Render(string(bucket)),
			theme.Flag(it.Identifiable && it.Converged))
	}
	tbl.Print(out)

	fmt.Fprintln(out)
	report.KeyValues(out,
		"Iterations", fmt.Sprint(cal.Iterations),
		"Converged", theme.Flag(cal.Converged),
		"Max change", fmt.Sprintf("%.2e", cal.MaxChange),
		"Log-likelihood", fmt.Sprintf("%.3f", cal.LogLikelihood),
	)
	printWarnings(out, cal.Warnings)
	return nil
}

// exportFile creates path and hands it to write.
func exportFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
