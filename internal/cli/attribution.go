package cli

import (
	"github.com/spf13/cobra"

	"github.com/SonGiHyeon/CV-API/internal/attribution"
	"github.com/SonGiHyeon/CV-API/internal/similarity"
	"github.com/SonGiHyeon/CV-API/internal/types"
)

func newAttributionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attribution",
		Short: "Compute and inspect draft attributions",
	}

	opts := attribution.DefaultOptions()
	var n int
	compute := &cobra.Command{
		Use:   "compute <draft-id>",
		Short: "Recompute contributor weights and preview rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gram, err := similarity.ParseGramSize(n)
			if err != nil {
				return err
			}
			opts.N = gram

			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			report, err := svc.ComputeAttribution(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.NewAttributionResponse(report))
		},
	}
	compute.Flags().IntVar(&opts.TopK, "top-k", attribution.DefaultTopK, "matches kept before the threshold filter")
	compute.Flags().Float64Var(&opts.Threshold, "threshold", attribution.DefaultThreshold, "minimum similarity in [0, 1]")
	compute.Flags().IntVarP(&n, "gram", "n", int(similarity.Trigram), "gram size, 2 or 3")
	compute.Flags().BoolVar(&opts.FallbackTo2, "fallback", true, "retry with bigrams when trigrams keep nothing")

	list := &cobra.Command{
		Use:   "list <draft-id>",
		Short: "Print the stored attribution rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			rows, err := svc.ListAttributions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.NewAttributionListResponse(args[0], rows))
		},
	}

	cmd.AddCommand(compute, list)
	return cmd
}
