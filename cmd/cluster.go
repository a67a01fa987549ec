package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/misconcept/internal/analyzer"
	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/store"
	"github.com/abhisek/misconcept/internal/ui/report"
	"github.com/abhisek/misconcept/internal/ui/theme"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <answers.txt>",
	Short: "Cluster free-text answers into a misconception taxonomy",
	Long: `Embed one answer per line, group them with k-means and publish the clusters
as the new misconception taxonomy. Use "-" for stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runCluster,
}

func init() {
	clusterCmd.Flags().IntP("k", "k", 0, "Number of clusters (0 = config default)")
	clusterCmd.Flags().Uint64("seed", 0, "Random seed (0 = config default)")
	clusterCmd.Flags().String("elbow", "", "Run an elbow sweep over MIN:MAX clusters instead of clustering")
	clusterCmd.Flags().StringSlice("label", nil, "Name a cluster, as ID=label (repeatable)")
	clusterCmd.Flags().String("items", "", "File of item IDs, one per answer line, recorded with the taxonomy")
	clusterCmd.Flags().Bool("dry-run", false, "Cluster without storing the taxonomy")
	clusterCmd.Flags().StringP("export", "o", "", "Write the taxonomy artifact to this file")
	clusterCmd.Flags().Bool("json", false, "Print the result as JSON")
}

func runCluster(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	texts, err := readLines(args[0])
	if err != nil {
		return err
	}

	if sweep, _ := cmd.Flags().GetString("elbow"); sweep != "" {
		return runElbow(cmd, e, texts, sweep)
	}

	svc, err := e.analyzer(cmd)
	if err != nil {
		return err
	}

	req := analyzer.ClusterRequest{Texts: texts}
	if path, _ := cmd.Flags().GetString("items"); path != "" {
		if req.ItemIDs, err = readLines(path); err != nil {
			return err
		}
	}
	req.K, _ = cmd.Flags().GetInt("k")
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		req.Seed = &seed
	}
	req.DryRun, _ = cmd.Flags().GetBool("dry-run")
	if path, _ := cmd.Flags().GetString("export"); path != "" && req.DryRun {
		return fmt.Errorf("--export needs a published taxonomy; drop --dry-run")
	}
	specs, _ := cmd.Flags().GetStringSlice("label")
	if req.Labels, err = parseLabels(specs); err != nil {
		return err
	}

	res, err := svc.Cluster(ctx, req)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("export"); path != "" {
		gen := svc.Taxonomy()
		if err := exportFile(path, func(f *os.File) error { return store.WriteTaxonomy(f, gen) }); err != nil {
			return err
		}
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, res)
	}

	tbl := report.NewTable(fmt.Sprintf("Taxonomy %s", res.GenerationID), "ID", "Label", "Size", "Cohesion", "Exemplar").
		AlignRight(0, 2, 3)
	for _, c := range res.Clusters {
		tbl.Row(c.ID, c.Label, c.Size, c.Cohesion, truncate(res.Exemplars[c.ID], 60))
	}
	tbl.Print(out)

	fmt.Fprintln(out)
	report.KeyValues(out,
		"Texts", fmt.Sprint(len(texts)),
		"Clusters", fmt.Sprintf("%d of %d requested", res.EffectiveK, res.RequestedK),
		"Converged", theme.Flag(res.Converged),
		"Silhouette", res.Silhouette.String(),
		"Calinski-Harabasz", res.CalinskiHarabasz.String(),
		"Published", theme.Flag(res.Published),
		"Stored", theme.Flag(res.Persisted),
	)
	printWarnings(out, res.Warnings)
	return nil
}

func runElbow(cmd *cobra.Command, e *env, texts []string, sweep string) error {
	var minK, maxK int
	if _, err := fmt.Sscanf(sweep, "%d:%d", &minK, &maxK); err != nil {
		return fmt.Errorf("invalid --elbow %q, want MIN:MAX: %w", sweep, err)
	}

	ctx := cmd.Context()
	emb, err := e.embedder(ctx)
	if err != nil {
		return err
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed texts: %w", err)
	}
	cfg := e.cfg.Cluster
	if cmd.Flags().Changed("seed") {
		cfg.Seed, _ = cmd.Flags().GetUint64("seed")
	}

	an, err := cluster.Elbow(ctx, vecs, minK, maxK, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, an)
	}
	tbl := report.NewTable("Elbow sweep", "k", "Inertia", "Silhouette", "").AlignRight(0, 1, 2)
	for i, k := range an.KValues {
		mark := ""
		if k == an.OptimalK {
			mark = theme.Good.Render("← knee")
		}
		tbl.Row(k, an.Inertias[i], an.Silhouette[i].String(), mark)
	}
	tbl.Print(out)
	return nil
}

// parseLabels turns ID=label flags into a map.
func parseLabels(specs []string) (map[int]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	labels := make(map[int]string, len(specs))
	for _, spec := range specs {
		idStr, label, ok := strings.Cut(spec, "=")
		var id int
		if !ok || strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("invalid label %q, want ID=label", spec)
		}
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid cluster id in %q: %w", spec, err)
		}
		labels[id] = strings.TrimSpace(label)
	}
	return labels, nil
}

func truncate(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}
