package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/types"
)

func newFragmentsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fragments",
		Short: "Manage the attribution corpus",
	}

	importCmd := &cobra.Command{
		Use:   "import <file.json|file.yaml>",
		Short: "Ingest fragments from a JSON or YAML list",
		Long: `Reads a list of fragments and upserts them by id. Items without an id
get a generated one.

  - ownerId: u_1
    text: "Go makes concurrency approachable"
    isEligible: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readFragments(args[0])
			if err != nil {
				return err
			}

			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			n, err := svc.IngestFragments(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), types.IngestFragmentsResponse{Ingested: n})
		},
	}

	eligibility := &cobra.Command{
		Use:   "eligibility <fragment-id> <true|false>",
		Short: "Record the quality-gate verdict for one fragment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eligible, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("eligibility must be true or false: %w", err)
			}

			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			if err := svc.SetFragmentEligibility(cmd.Context(), args[0], eligible); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s eligible=%t\n", args[0], eligible)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count fragments by eligibility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			s, err := svc.FragmentStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	cmd.AddCommand(importCmd, eligibility, stats)
	return cmd
}

func readFragments(path string) ([]ledger.FragmentInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WrapError(err, "read fragments")
	}

	var in []ledger.FragmentInput
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(raw, &in)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &in)
	default:
		return nil, fmt.Errorf("unsupported fragment file extension %q", ext)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, "decode %s", path)
	}
	return in, nil
}
