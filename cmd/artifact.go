package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/store"
	"github.com/abhisek/misconcept/internal/ui/report"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Import, export and list stored taxonomies, calibrations and gates",
}

var artifactImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Validate an artifact and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		in, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		a, err := store.ReadArtifact(in)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		st, err := e.openStore(cmd)
		if err != nil {
			return err
		}
		if err := st.Import(cmd.Context(), a); err != nil {
			return err
		}

		var id uuid.UUID
		switch a.Kind {
		case store.KindTaxonomy:
			id = a.Taxonomy.ID
		case store.KindCalibration:
			id = a.Calibration.ID
		case store.KindGate:
			id = a.Gate.ID
		}
		e.log.Info().Str("kind", a.Kind).Str("id", id.String()).Msg("artifact imported")
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s %s\n", a.Kind, id)
		return nil
	},
}

var artifactExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored taxonomy, calibration or gate as an artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		idFlag, _ := cmd.Flags().GetString("id")
		outPath, _ := cmd.Flags().GetString("output")

		var id uuid.UUID
		if idFlag != "" {
			var err error
			if id, err = uuid.Parse(idFlag); err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
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
		ctx := cmd.Context()

		var write func(*os.File) error
		switch kind {
		case store.KindTaxonomy:
			repo := st.GenerationRepo()
			g, err := repo.Latest(ctx)
			if id != uuid.Nil {
				g, err = repo.Get(ctx, id)
			}
			if err != nil {
				return err
			}
			if g == nil {
				return errors.New("no taxonomy stored")
			}
			write = func(f *os.File) error { return store.WriteTaxonomy(f, g) }
		case store.KindCalibration:
			c, err := st.CalibrationRepo().Latest(ctx)
			if id != uuid.Nil {
				c, err = st.CalibrationRepo().Get(ctx, id)
			}
			if err != nil {
				return err
			}
			if c == nil {
				return errors.New("no calibration stored")
			}
			write = func(f *os.File) error { return store.WriteCalibration(f, c) }
		case store.KindGate:
			g, err := st.GateRepo().Latest(ctx)
			if id != uuid.Nil {
				g, err = st.GateRepo().Get(ctx, id)
			}
			if err != nil {
				return err
			}
			if g == nil {
				return errors.New("no gate stored")
			}
			write = func(f *os.File) error { return store.WriteGate(f, g) }
		default:
			return fmt.Errorf("unknown --kind %q (want %s, %s or %s)", kind, store.KindTaxonomy, store.KindCalibration, store.KindGate)
		}

		if outPath == "" || outPath == "-" {
			return write(os.Stdout)
		}
		if err := exportFile(outPath, write); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n", kind, outPath)
		return nil
	},
}

var artifactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored taxonomy generations",
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

		limit, _ := cmd.Flags().GetInt("limit")
		gens, err := st.GenerationRepo().List(cmd.Context(), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, gens)
		}
		if len(gens) == 0 {
			fmt.Fprintln(out, "No taxonomies stored.")
			return nil
		}
		tbl := report.NewTable("Taxonomy generations", "ID", "Created", "Source", "Dim", "Clusters").AlignRight(3, 4)
		for _, g := range gens {
			tbl.Row(g.ID.String(), g.CreatedAt.Local().Format(time.DateTime), g.Source, g.Dimension, g.Clusters)
		}
		tbl.Print(out)

		if cal, err := st.CalibrationRepo().Latest(cmd.Context()); err == nil && cal != nil {
			fmt.Fprintln(out)
			report.KeyValues(out,
				"Latest calibration", cal.ID.String(),
				"Created", cal.CreatedAt.Local().Format(time.DateTime),
				"Items", fmt.Sprint(len(cal.Items)),
			)
		}
		if g, err := st.GateRepo().Latest(cmd.Context()); err == nil && g != nil {
			fmt.Fprintln(out)
			report.KeyValues(out,
				"Latest gate", g.ID.String(),
				"Created", g.CreatedAt.Local().Format(time.DateTime),
				"Shape", fmt.Sprintf("%d -> %d -> %d", g.InputDim(), len(g.W1), len(g.W2)),
			)
		}
		return nil
	},
}

var artifactPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest taxonomy generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 1 {
			return errors.New("--keep must be at least 1")
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
		if err := st.GenerationRepo().Prune(cmd.Context(), keep); err != nil {
			return err
		}
		e.log.Info().Int("keep", keep).Msg("pruned taxonomy generations")
		return nil
	},
}

func init() {
	artifactExportCmd.Flags().String("kind", store.KindTaxonomy, "Artifact kind: taxonomy, calibration or gate")
	artifactExportCmd.Flags().String("id", "", "Export this ID instead of the latest")
	artifactExportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")

	artifactListCmd.Flags().Int("limit", 20, "Maximum generations to list")
	artifactListCmd.Flags().Bool("json", false, "Print as JSON")

	artifactPruneCmd.Flags().Int("keep", 5, "Generations to keep")

	artifactCmd.AddCommand(artifactImportCmd, artifactExportCmd, artifactListCmd, artifactPruneCmd)
}
