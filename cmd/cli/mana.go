package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"icn-node/core"
)

// ManaCmd exposes spend_mana, credit_mana and balance inspection
// against the node's own regenerating mana ledger.
func ManaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mana", Short: "inspect and adjust mana balances"}

	balance := &cobra.Command{
		Use:   "balance [did]",
		Short: "print an account's mana balance (defaults to this node)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			did := RC.Self
			if len(args) == 1 {
				did = core.DID(args[0])
			}
			acct := RC.Mana.Account(did)
			fmt.Printf("balance=%d capacity=%d regen_rate=%.4f\n", acct.Balance, acct.Capacity, acct.RegenerationRate)
			return nil
		},
	}
	cmd.AddCommand(balance)

	var spendAmount uint64
	spend := &cobra.Command{
		Use:   "spend [amount]",
		Short: "debit mana from this node's own account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[0], "%d", &spendAmount); err != nil {
				return fmt.Errorf("%w: amount must be a non-negative integer", core.ErrInvalidParameters)
			}
			if err := RC.SpendMana(RC.Self, spendAmount); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.AddCommand(spend)

	var did string
	var creditAmount uint64
	credit := &cobra.Command{
		Use:   "credit [amount]",
		Short: "credit mana to an account (governance/operator use)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[0], "%d", &creditAmount); err != nil {
				return fmt.Errorf("%w: amount must be a non-negative integer", core.ErrInvalidParameters)
			}
			target := RC.Self
			if did != "" {
				target = core.DID(did)
			}
			if err := RC.CreditMana(target, creditAmount); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	credit.Flags().StringVar(&did, "did", "", "recipient DID (defaults to this node)")
	cmd.AddCommand(credit)

	return cmd
}
