package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"icn-node/core"
)

// TokensCmd exposes the multi-class token ledger: class registration,
// mint, burn, transfer and balance/listing queries.
func TokensCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "manage scoped fungible token classes"}

	var transferability string
	registerClass := &cobra.Command{
		Use:   "register-class [class-id]",
		Short: "register a new token class issued by this node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			class := core.TokenClass{
				ClassID:         args[0],
				Transferability: core.TransferabilityRule(transferability),
				IssuersByScope:  map[string][]core.DID{"": {RC.Self}},
			}
			return RC.Tokens.RegisterClass(class)
		},
	}
	registerClass.Flags().StringVar(&transferability, "transferability", string(core.TransferAlways), "always|never|scoped")
	cmd.AddCommand(registerClass)

	listClasses := &cobra.Command{
		Use:   "list-classes",
		Short: "list registered token classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			for _, c := range RC.Tokens.ListClasses() {
				fmt.Printf("%s transferability=%s supply=%d\n", c.ClassID, c.Transferability, c.TotalSupply)
			}
			return nil
		},
	}
	cmd.AddCommand(listClasses)

	balance := &cobra.Command{
		Use:   "balance [class] [did]",
		Short: "print an account's balance within a token class",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			did := RC.Self
			if len(args) == 2 {
				did = core.DID(args[1])
			}
			fmt.Println(RC.Tokens.GetBalance(args[0], did))
			return nil
		},
	}
	cmd.AddCommand(balance)

	var scope string
	var mintAmount, burnAmount uint64
	mint := &cobra.Command{
		Use:   "mint [class] [did] [amount]",
		Short: "mint tokens into an account as the class issuer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[2], "%d", &mintAmount); err != nil {
				return fmt.Errorf("%w: amount must be a non-negative integer", core.ErrInvalidParameters)
			}
			return RC.Tokens.Mint(RC.Self, args[0], scope, core.DID(args[1]), mintAmount)
		},
	}
	mint.Flags().StringVar(&scope, "scope", "", "issuance scope")
	cmd.AddCommand(mint)

	burn := &cobra.Command{
		Use:   "burn [class] [did] [amount]",
		Short: "burn tokens from an account as the class issuer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[2], "%d", &burnAmount); err != nil {
				return fmt.Errorf("%w: amount must be a non-negative integer", core.ErrInvalidParameters)
			}
			return RC.Tokens.Burn(RC.Self, args[0], scope, core.DID(args[1]), burnAmount)
		},
	}
	burn.Flags().StringVar(&scope, "scope", "", "issuance scope")
	cmd.AddCommand(burn)

	var xferAmount uint64
	transfer := &cobra.Command{
		Use:   "transfer [class] [to] [amount]",
		Short: "transfer tokens from this node to another account",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			if _, err := fmt.Sscanf(args[2], "%d", &xferAmount); err != nil {
				return fmt.Errorf("%w: amount must be a non-negative integer", core.ErrInvalidParameters)
			}
			return RC.Tokens.Transfer(args[0], RC.Self, core.DID(args[1]), xferAmount)
		},
	}
	cmd.AddCommand(transfer)

	return cmd
}
