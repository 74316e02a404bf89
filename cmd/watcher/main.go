package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nomad-xyz/nomad-go/pkg/agents/base"
	"github.com/nomad-xyz/nomad-go/pkg/agents/watcher"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "watcher",
		Usage: "Nomad watcher agent",
		Description: `The watcher observes the home and replicas for double-update fraud.

It compares signed updates across chains; when the updater attests to two
different roots from the same previous root, the watcher signs a failure
notification, broadcasts it to every connection manager, and submits the
double-update proof to the home.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the JSON config document",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{"NOMAD_DEBUG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		_ = os.Setenv("CONFIG_PATH", path)
	}

	core, err := base.NewCore("watcher", c.Bool("debug"))
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	attestor, err := signer.NewPrivateKeySigner(core.Config.Agent.SignerKey, 0)
	if err != nil {
		return err
	}

	core.StartSubmitter(ctx)

	streams := make(map[string]<-chan *types.SignedUpdateWithMeta)
	streams[core.Config.HomeNetwork] = core.HomeSync().SyncUpdates(ctx)
	var managers []types.Domain
	for name, network := range core.Config.Replicas() {
		streams[name] = core.ReplicaSync(name).SyncUpdates(ctx)
		if network.Contracts.ConnectionManager != "" {
			managers = append(managers, types.Domain(network.Domain))
		}
	}
	home := core.Config.Networks[core.Config.HomeNetwork]
	if home.Contracts.ConnectionManager != "" {
		managers = append(managers, types.Domain(home.Domain))
	}

	agent := watcher.NewWatcher(
		core.Config.HomeNetwork,
		types.Domain(home.Domain),
		core.UpdaterAddress(),
		attestor,
		core.TxManager,
		managers,
		streams,
		core.Logger,
		core.Metrics,
	)

	return pipe.SpawnWithRestart(ctx, pipe.NewFunc("watcher", agent.Run), core.Logger)
}
