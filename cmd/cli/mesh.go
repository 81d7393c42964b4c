package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"icn-node/core"
)

// meshNode is one running member of a local mesh: its transport and
// the runtime context the orchestrator bridges it to.
type meshNode struct {
	node *core.Node
	rc   *core.RuntimeContext
}

// MeshCmd starts a local cluster of mesh nodes from a YAML peer-list
// file. Each entry becomes a full node: its own identity, store, job
// engine and executor, joined to the same gossip mesh, with an
// orchestrator servicing inbound announcements, assignments, bids and
// receipts. Used to exercise multi-node job lifecycles without a real
// deployment.
func MeshCmd() *cobra.Command {
	var seedMana uint64
	cmd := &cobra.Command{
		Use:   "mesh <config.yaml>",
		Short: "start a local multi-node mesh from a YAML peer-list file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read mesh config: %w", err)
			}
			var peerList struct {
				Nodes []core.Config `yaml:"nodes"`
			}
			if err := yaml.Unmarshal(b, &peerList); err != nil {
				return fmt.Errorf("parse mesh config: %w", err)
			}
			if len(peerList.Nodes) == 0 {
				return fmt.Errorf("mesh config declares no nodes")
			}

			// Every node's key goes into one shared resolver so bids and
			// receipts verify across the local mesh, the same way a real
			// deployment resolves DID documents from replicated identity
			// blocks.
			resolver := core.NewMapDIDResolver()
			signers := make([]*core.Ed25519Signer, len(peerList.Nodes))
			for i := range peerList.Nodes {
				signer, err := core.GenerateEd25519Identity("icn")
				if err != nil {
					return fmt.Errorf("generate identity: %w", err)
				}
				signers[i] = signer
				resolver.Register(signer.DID(), signer.PublicKey(), signer.Algo())
			}

			members := make([]meshNode, 0, len(peerList.Nodes))
			shutdown := func() {
				for _, m := range members {
					m.rc.Stop()
					_ = m.node.Close()
				}
			}

			for i, cfg := range peerList.Nodes {
				if cfg.DiscoveryTag == "" {
					cfg.DiscoveryTag = "icn-mesh"
				}
				node, err := core.NewNode(cfg)
				if err != nil {
					shutdown()
					return fmt.Errorf("start node %s: %w", cfg.ListenAddr, err)
				}

				store, err := core.NewMemoryStore("")
				if err != nil {
					_ = node.Close()
					shutdown()
					return fmt.Errorf("open store: %w", err)
				}
				announcer := core.NewNetworkAnnouncer(node)

				rc, err := core.NewRuntimeContext(core.RuntimeContextConfig{
					Mode:        core.ModeTest,
					Self:        signers[i].DID(),
					Signer:      signers[i],
					Resolver:    resolver,
					Store:       store,
					Announcer:   announcer,
					SystemProbe: core.HostSystemProbe{},
				})
				if err != nil {
					_ = node.Close()
					shutdown()
					return fmt.Errorf("wire runtime for %s: %w", cfg.ListenAddr, err)
				}
				rc.Start()

				if seedMana > 0 {
					if err := rc.Mana.SetBalance(rc.Self, seedMana); err != nil {
						logrus.WithError(err).Warn("mesh: seed mana failed")
					}
				}

				store.SetOnPut(func(blk core.Block) {
					if err := announcer.ReplicateBlock(blk); err != nil {
						logrus.WithError(err).Debug("mesh: block replication failed")
					}
				})

				probe := core.HostSystemProbe{}
				orch := core.NewOrchestrator(node, rc.Jobs, rc.Executor, rc.Store,
					core.ResourceSpec{CPU: probe.AvailableCPU(), MemMB: probe.AvailableMemMB()}, 30)
				go func(addr string) {
					if err := orch.Run(); err != nil {
						logrus.WithError(err).WithField("node", addr).Error("mesh: orchestrator exited")
					}
				}(cfg.ListenAddr)

				members = append(members, meshNode{node: node, rc: rc})
				logrus.WithFields(logrus.Fields{"addr": cfg.ListenAddr, "did": rc.Self}).Info("mesh: node up")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mesh started with %d nodes\n", len(members))

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			shutdown()
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seedMana, "seed-mana", 1000, "initial mana balance per node (0 disables seeding)")
	return cmd
}
