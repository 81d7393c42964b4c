package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// WasmCmd exposes introspection over the node's Wasm sandbox pool.
func WasmCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wasm", Short: "inspect the Wasm sandbox pool"}

	cmd.AddCommand(&cobra.Command{
		Use:   "sandboxes",
		Short: "list tracked Wasm sandboxes and their resource ceilings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			sandboxes := RC.Wasm.ListSandboxes()
			if len(sandboxes) == 0 {
				fmt.Println("no sandboxes tracked")
				return nil
			}
			for cid, info := range sandboxes {
				fmt.Printf("%s active=%t cpu_limit_ms=%d started=%s\n", cid.String(), info.Active, info.CPULimitMS, info.Started.Format("15:04:05"))
			}
			return nil
		},
	})

	return cmd
}
