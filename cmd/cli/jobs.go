package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"icn-node/core"
)

// JobsCmd exposes submit_job, get_job_status, cancel_job and
// anchor_receipt from the node's host ABI surface.
func JobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "submit and inspect mesh jobs"}

	var manifest, kind, spec string
	var cost uint64
	var cpu, mem float64
	submit := &cobra.Command{
		Use:   "submit",
		Short: "submit a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			manifestCID, err := core.ParseCID(manifest)
			if err != nil && manifest != "" {
				return err
			}
			jobID, err := RC.SubmitJob(manifestCID, []byte(spec), cost, core.JobKind(kind), core.ResourceSpec{CPU: cpu, MemMB: mem})
			if err != nil {
				return err
			}
			fmt.Println(jobID.String())
			return nil
		},
	}
	submit.Flags().StringVar(&manifest, "manifest", "", "manifest CID (hex, Wasm jobs only)")
	submit.Flags().StringVar(&kind, "kind", string(core.KindEcho), "job kind: Echo|Wasm|Generic")
	submit.Flags().StringVar(&spec, "spec", "", "job spec payload")
	submit.Flags().Uint64Var(&cost, "cost", 10, "cost in mana")
	submit.Flags().Float64Var(&cpu, "cpu", 1, "required cpu")
	submit.Flags().Float64Var(&mem, "mem", 256, "required mem_mb")
	cmd.AddCommand(submit)

	status := &cobra.Command{
		Use:   "status [job-id]",
		Short: "print a job's reconstructed lifecycle status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			jobID, err := core.ParseCID(args[0])
			if err != nil {
				return err
			}
			lc, err := RC.GetJobStatus(jobID)
			if err != nil {
				return err
			}
			fmt.Printf("status=%s reason=%s bids=%d\n", lc.Status, lc.Reason, len(lc.Bids))
			return nil
		},
	}
	cmd.AddCommand(status)

	cancel := &cobra.Command{
		Use:   "cancel [job-id]",
		Short: "cancel a job prior to its terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			jobID, err := core.ParseCID(args[0])
			if err != nil {
				return err
			}
			return RC.Jobs.CancelJob(jobID)
		},
	}
	cmd.AddCommand(cancel)

	var executor, resultCID, execErr string
	var cpuMillis uint64
	var success bool
	anchor := &cobra.Command{
		Use:   "anchor-receipt [job-id]",
		Short: "anchor a signed execution receipt for an assigned job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRC(); err != nil {
				return err
			}
			jobID, err := core.ParseCID(args[0])
			if err != nil {
				return err
			}
			var resCID core.CID
			if resultCID != "" {
				if resCID, err = core.ParseCID(resultCID); err != nil {
					return err
				}
			}
			receipt := core.Receipt{
				JobID:     jobID,
				Executor:  core.DID(executor),
				Success:   success,
				CPUMillis: cpuMillis,
				ResultCID: resCID,
				Error:     execErr,
			}
			msg, err := core.ReceiptSigningBytes(receipt)
			if err != nil {
				return err
			}
			sig, err := RC.Signer.Sign(msg)
			if err != nil {
				return err
			}
			receipt.Signature = sig
			cid, err := RC.AnchorReceipt(receipt)
			if err != nil {
				return err
			}
			fmt.Println(cid.String())
			return nil
		},
	}
	anchor.Flags().StringVar(&executor, "executor", "", "executor DID")
	anchor.Flags().StringVar(&resultCID, "result", "", "result block CID (hex)")
	anchor.Flags().Uint64Var(&cpuMillis, "cpu-ms", 0, "observed cpu time in milliseconds")
	anchor.Flags().BoolVar(&success, "success", true, "whether execution succeeded")
	anchor.Flags().StringVar(&execErr, "error", "", "execution error message, if any")
	cmd.AddCommand(anchor)

	return cmd
}
