package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nomad-xyz/nomad-go/pkg/agents/base"
	"github.com/nomad-xyz/nomad-go/pkg/agents/relayer"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "Nomad relayer agent",
		Description: `The relayer forwards signed updates from the home chain to replicas.

Each forwarded update starts the replica's fraud-challenge timelock; the
replica contract enforces the timelock semantics on chain.`,
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

	core, err := base.NewCore("relayer", c.Bool("debug"))
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	core.StartSubmitter(ctx)
	updates := core.HomeSync().SyncUpdates(ctx)

	replicas := make(map[string]types.Domain)
	for name, network := range core.Config.Replicas() {
		replicas[name] = types.Domain(network.Domain)
	}

	agent := relayer.NewRelayer(
		core.Config.HomeNetwork,
		replicas,
		core.TxManager,
		updates,
		core.Logger,
		core.Metrics,
	)

	return pipe.SpawnWithRestart(ctx, pipe.NewFunc("relayer", agent.Run), core.Logger)
}
