package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"icn-node/core"
)

// GovernanceCmd exposes create-proposal, cast-vote, tally and apply
// against the shared governance parameter map (C10).
func GovernanceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "governance", Short: "propose, vote on and apply parameter changes"}

	create := &cobra.Command{
		Use:   "create-proposal [key=value...]",
		Short: "create a proposal changing one or more governance parameters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			changes := make(map[string]string, len(args))
			for _, kv := range args {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("%w: expected key=value, got %q", core.ErrInvalidParameters, kv)
				}
				changes[k] = v
			}
			id, err := RC.CreateGovernanceProposal(changes)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.AddCommand(create)

	var approve bool
	vote := &cobra.Command{
		Use:   "cast-vote [proposal-id]",
		Short: "cast this node's vote on a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			return RC.CastGovernanceVote(args[0], approve)
		},
	}
	vote.Flags().BoolVar(&approve, "approve", true, "approve (true) or reject (false) the proposal")
	cmd.AddCommand(vote)

	tally := &cobra.Command{
		Use:   "tally [proposal-id]",
		Short: "print a proposal's current approve/reject vote counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			approveN, rejectN := RC.Governance.Tally(args[0])
			fmt.Printf("approve=%d reject=%d\n", approveN, rejectN)
			return nil
		},
	}
	cmd.AddCommand(tally)

	apply := &cobra.Command{
		Use:   "apply [proposal-id]",
		Short: "apply a proposal's parameter changes to the live parameter map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			return RC.Governance.ApplyProposal(args[0])
		},
	}
	cmd.AddCommand(apply)

	return cmd
}
