// Command icn-node runs a single ICN mesh node: the job lifecycle
// engine, the economic automation engine, the mesh transport, and the
// CLI surface used to drive them.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"icn-node/cmd/cli"
	"icn-node/daemon"
	icnconfig "icn-node/pkg/config"
	"icn-node/pkg/utils"

	"icn-node/core"
)

func main() {
	os.Exit(run())
}

func run() int {
	var env string
	var dbPath string
	var listenAddr string
	var production bool

	root := &cobra.Command{
		Use:   "icn-node",
		Short: "ICN mesh node: job lifecycle, economics and CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := icnconfig.Load(env)
			if err != nil {
				logrus.WithError(err).Warn("icn-node: no config file found, using defaults")
				cfg = &icnconfig.Config{}
			}
			if dbPath == "" {
				dbPath = cfg.Storage.DBPath
			}
			if listenAddr == "" {
				listenAddr = cfg.Network.ListenAddr
			}
			rc, err := bootstrap(dbPath, listenAddr, production)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			cli.RC = rc
			return nil
		},
	}
	root.PersistentFlags().StringVar(&env, "env", "", "configuration environment overlay (cmd/config/<env>.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "block store WAL path (empty selects in-memory)")
	root.PersistentFlags().StringVar(&listenAddr, "listen", "", "libp2p listen multiaddr (empty disables the mesh transport)")
	root.PersistentFlags().BoolVar(&production, "production", false, "require durable/networked collaborators")

	root.AddCommand(cli.NodeCmd(), cli.JobsCmd(), cli.ManaCmd(), cli.TokensCmd(), cli.GovernanceCmd(), cli.WasmCmd(), cli.MeshCmd())

	var httpAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP surface until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := daemon.NewServer(cli.RC, httpAddr)
			return srv.ListenAndServe()
		},
	}
	serve.Flags().StringVar(&httpAddr, "http", ":8080", "HTTP listen address")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// bootstrap constructs a single-node RuntimeContext: a fresh Ed25519
// identity, a block store at dbPath (or pure in-memory when empty),
// the mesh transport when listenAddr is set, and every C1-C10
// collaborator wired through core.NewRuntimeContext. With a transport,
// the node joins the gossip mesh: an Orchestrator services inbound
// announcements, assignments, bids and receipts, and every locally
// anchored block is replicated to peers.
func bootstrap(dbPath, listenAddr string, production bool) (*core.RuntimeContext, error) {
	method := utils.EnvOrDefault("ICN_DID_METHOD", "icn")
	signer, err := core.GenerateEd25519Identity(method)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	resolver := core.NewMapDIDResolver()
	resolver.Register(signer.DID(), signer.PublicKey(), signer.Algo())

	store, err := core.NewMemoryStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var node *core.Node
	var announcer *core.NetworkAnnouncer
	if listenAddr != "" {
		node, err = core.NewNode(core.Config{
			ListenAddr:   listenAddr,
			DiscoveryTag: utils.EnvOrDefault("ICN_DISCOVERY_TAG", "icn-mesh"),
		})
		if err != nil {
			return nil, fmt.Errorf("start mesh transport: %w", err)
		}
		announcer = core.NewNetworkAnnouncer(node)
	}

	mode := core.ModeTest
	if production {
		mode = core.ModeProduction
	}

	cfg := core.RuntimeContextConfig{
		Mode:        mode,
		Self:        signer.DID(),
		Signer:      signer,
		Resolver:    resolver,
		Store:       store,
		SystemProbe: core.HostSystemProbe{},
	}
	if announcer != nil {
		cfg.Announcer = announcer
	}
	rc, err := core.NewRuntimeContext(cfg)
	if err != nil {
		if node != nil {
			_ = node.Close()
		}
		return nil, err
	}
	rc.Start()

	if node != nil {
		store.SetOnPut(func(b core.Block) {
			if err := announcer.ReplicateBlock(b); err != nil {
				logrus.WithError(err).Debug("icn-node: block replication failed")
			}
		})
		probe := core.HostSystemProbe{}
		orch := core.NewOrchestrator(node, rc.Jobs, rc.Executor, rc.Store,
			core.ResourceSpec{CPU: probe.AvailableCPU(), MemMB: probe.AvailableMemMB()},
			utils.EnvOrDefaultUint64("ICN_MAX_EXEC_SECS", 30))
		go func() {
			if err := orch.Run(); err != nil {
				logrus.WithError(err).Error("icn-node: orchestrator exited")
			}
		}()
	}

	// NODE_START_TIME lets an operator pin the node's advertised start
	// epoch across restarts; absent, the process start is used.
	startEpoch := utils.EnvOrDefaultUint64("NODE_START_TIME", uint64(time.Now().Unix()))
	logrus.WithFields(logrus.Fields{
		"did":        signer.DID(),
		"mesh":       listenAddr != "",
		"start_time": time.Unix(int64(startEpoch), 0).UTC().Format(time.RFC3339),
	}).Info("icn-node: runtime context ready")
	return rc, nil
}
