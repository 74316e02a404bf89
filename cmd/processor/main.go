package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/nomad-xyz/nomad-go/pkg/agents/base"
	"github.com/nomad-xyz/nomad-go/pkg/agents/processor"
	"github.com/nomad-xyz/nomad-go/pkg/pipe"
	"github.com/nomad-xyz/nomad-go/pkg/prover"
	"github.com/nomad-xyz/nomad-go/pkg/s3proofs"
	"github.com/nomad-xyz/nomad-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "processor",
		Usage: "Nomad processor agent",
		Description: `The processor proves and processes dispatched messages on replicas.

It mirrors the home accumulator off chain, freezes a merkle proof for every
message at the update that first covered it, and enqueues each (message,
proof) pair for delivery to the destination replica as soon as its proof is
frozen. It does not wait for the replica's timelock itself.`,
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

	core, err := base.NewCore("processor", c.Bool("debug"))
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	core.StartSubmitter(ctx)
	sync := core.HomeSync()
	messages := sync.SyncMessages(ctx)
	updates := sync.SyncUpdates(ctx)

	proverSync, err := prover.NewProverSync(
		core.Config.HomeNetwork,
		core.DB,
		core.UpdaterAddress(),
		messages,
		updates,
		core.Logger,
		core.Metrics,
	)
	if err != nil {
		return err
	}

	proverDone := make(chan error, 1)
	go func() {
		proverDone <- pipe.SpawnWithRestart(ctx, proverSync, core.Logger)
	}()

	cfg := core.Config.Agent.Processor
	var mirror *s3proofs.ProofMirror
	if cfg.S3 != nil {
		mirror, err = s3proofs.NewProofMirror(ctx, cfg.S3.Bucket, cfg.S3.Region, core.Logger)
		if err != nil {
			return err
		}
	}

	replicasByDomain := make(map[types.Domain]string)
	for name, network := range core.Config.Replicas() {
		replicasByDomain[types.Domain(network.Domain)] = name
	}

	agent := processor.NewProcessor(
		core.Config.HomeNetwork,
		replicasByDomain,
		identifiers(cfg.Allowed),
		identifiers(cfg.Denied),
		cfg.IndexOnly,
		core.TxManager,
		mirror,
		proverSync.Out(),
		core.Logger,
		core.Metrics,
	)

	if err := pipe.SpawnWithRestart(ctx, pipe.NewFunc("processor", agent.Run), core.Logger); err != nil {
		return err
	}
	return <-proverDone
}

func identifiers(hexes []string) []types.NomadIdentifier {
	out := make([]types.NomadIdentifier, 0, len(hexes))
	for _, h := range hexes {
		out = append(out, common.HexToHash(h))
	}
	return out
}
