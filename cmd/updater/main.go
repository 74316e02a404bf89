package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nomad-xyz/nomad-go/pkg/agents/base"
	"github.com/nomad-xyz/nomad-go/pkg/agents/updater"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "updater",
		Usage: "Nomad updater agent",
		Description: `The updater signs updates and submits them to the home chain.

It watches the home for committed-root transitions, attests to each with
the updater key, and submits the signed update back to the home contract,
one in flight at a time.`,
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

	core, err := base.NewCore("updater", c.Bool("debug"))
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

	initialRoot, err := core.Home.CommittedRoot(ctx)
	if err != nil {
		return err
	}

	core.StartSubmitter(ctx)
	messages := core.HomeSync().SyncMessages(ctx)

	home := core.Config.Networks[core.Config.HomeNetwork]
	agent := updater.NewUpdater(
		core.Config.HomeNetwork,
		types.Domain(home.Domain),
		core.DB,
		attestor,
		core.TxManager,
		messages,
		initialRoot,
		core.Logger,
		core.Metrics,
	)

	return pipe.SpawnWithRestart(ctx, pipe.NewFunc("updater", agent.Run), core.Logger)
}
