package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NodeCmd exposes the node's health/ready/identity surface; start/stop
// themselves are driven by icn-node's process lifetime, not a
// sub-command.
func NodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node", Short: "node lifecycle and status"}
	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "report whether the runtime context is wired",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				fmt.Println("unhealthy:", err)
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ready",
		Short: "report whether the node is ready to accept jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				fmt.Println("not ready:", err)
				return err
			}
			fmt.Println("ready")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "print this node's DID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			fmt.Println(RC.Self)
			return nil
		},
	})
	return cmd
}
