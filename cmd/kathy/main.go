package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nomad-xyz/nomad-go/pkg/agents/base"
	"github.com/nomad-xyz/nomad-go/pkg/agents/kathy"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/signer"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:        "kathy",
		Usage:       "Nomad traffic generator",
		Description: `Kathy is chatty. She sends generated messages to random replicas to exercise the pipeline.`,
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

	core, err := base.NewCore("kathy", c.Bool("debug"))
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sender, err := signer.NewPrivateKeySigner(core.Config.Agent.SignerKey, 0)
	if err != nil {
		return err
	}

	core.StartSubmitter(ctx)

	var destinations []types.Domain
	for _, network := range core.Config.Replicas() {
		destinations = append(destinations, types.Domain(network.Domain))
	}

	home := core.Config.Networks[core.Config.HomeNetwork]
	agent := kathy.NewKathy(
		core.Config.HomeNetwork,
		types.Domain(home.Domain),
		types.AddressToIdentifier(sender.Address()),
		destinations,
		core.Config.Agent.Kathy,
		core.TxManager,
		core.Logger,
	)

	return pipe.SpawnWithRestart(ctx, pipe.NewFunc("kathy", agent.Run), core.Logger)
}
