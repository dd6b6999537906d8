package cli

import (
	"github.com/spf13/cobra"

	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/types"
)

func newDraftCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Create, finalize and settle drafts",
	}

	var in ledger.CreateDraftInput
	create := &cobra.Command{
		Use:     "create",
		Short:   "Compose and store a new preview draft",
		Example: `  attribctl draft create --company Acme --position "Backend Engineer" --jd "Go, SQL" --tone formal`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			d, err := svc.CreateDraft(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.NewDraftResponse(d))
		},
	}
	create.Flags().StringVar(&in.Company, "company", "", "company name")
	create.Flags().StringVar(&in.Position, "position", "", "position title")
	create.Flags().StringVar(&in.JobDescription, "jd", "", "job description")
	create.Flags().StringVar(&in.Tone, "tone", "neutral", "neutral, formal or friendly")
	create.Flags().StringVar(&in.AuthorID, "author", "", "author id")

	show := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Print one draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			d, err := svc.GetDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.NewDraftResponse(d))
		},
	}

	finalize := &cobra.Command{
		Use:   "finalize <draft-id>",
		Short: "Finalize a draft and write its preview ledger rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			report, err := svc.Finalize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.NewFinalizeResponse(report))
		},
	}

	settle := &cobra.Command{
		Use:   "settle <draft-id>",
		Short: "Settle every preview ledger row of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			report, err := svc.Settle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.SettleResponse{OK: true, DraftID: report.DraftID, Settled: report.Settled})
		},
	}

	ledgerCmd := &cobra.Command{
		Use:   "ledger <draft-id>",
		Short: "List the ledger rows of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			entries, err := svc.LedgerForDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.LedgerResponse{DraftID: args[0], Rows: types.NewLedgerRows(entries)})
		},
	}

	cmd.AddCommand(create, show, finalize, settle, ledgerCmd)
	return cmd
}

func newRewardsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rewards <contributor-id>",
		Short: "List a contributor's ledger rows with preview and settled totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			summary, err := svc.RewardsForContributor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.NewRewardsResponse(summary))
		},
	}
}
