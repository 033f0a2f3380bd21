package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/bitactor/internal/config"
	"github.com/orizon-lang/bitactor/internal/logging"
	"github.com/orizon-lang/bitactor/internal/runtime"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/supervision"
)

type runOptions struct {
	ticks    uint64
	interval time.Duration
	actors   int
	bytecode string
	signals  []string
	trigger  uint8
	seed     uint8
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Spawn actors and drive the tick loop",
		Long: `Spawns --actors actors running --bytecode (hex), chains the actors of
each domain with entanglement connections and steps the system until
--ticks is reached or the process is interrupted. The configuration file,
when given, is watched and its logging level applied on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSystem(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&opts.ticks, "ticks", 0, "number of steps, 0 runs until interrupted")
	f.DurationVar(&opts.interval, "interval", 0, "delay between steps")
	f.IntVar(&opts.actors, "actors", 8, "actors to spawn, spread over the domains")
	f.StringVar(&opts.bytecode, "bytecode", "01020408", "actor bytecode as hex")
	f.StringSliceVar(&opts.signals, "signal", nil, "external signal fed every step (repeatable, 0x prefix allowed)")
	f.Uint8Var(&opts.trigger, "trigger", 0xFF, "trigger mask of the chain connections")
	f.Uint8Var(&opts.seed, "seed", 0, "initial meaning XORed into every actor before the first step")
	return cmd
}

func parseSignals(in []string) ([]uint64, error) {
	out := make([]uint64, 0, len(in))
	for _, s := range in {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", s, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// spawnChain places n actors round-robin over the domains and connects
// consecutive actors of the same domain.
func spawnChain(sys *runtime.System, domains, n int, m *actor.Manifest, trigger uint8) error {
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("actor-%d", i)
		if _, err := sys.Spawn(runtime.ActorSpec{
			Name:     name,
			Domain:   i % domains,
			Manifest: m,
			Policy:   supervision.Permanent,
		}); err != nil {
			return err
		}
		if i >= domains {
			if err := sys.Connect(fmt.Sprintf("actor-%d", i-domains), name, trigger, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func runSystem(ctx context.Context, out io.Writer, root *rootOptions, opts *runOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	log, level, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	code, err := hex.DecodeString(opts.bytecode)
	if err != nil {
		return fmt.Errorf("bytecode: %w", err)
	}
	m, err := actor.NewManifest(0, code, "")
	if err != nil {
		return err
	}
	signals, err := parseSignals(opts.signals)
	if err != nil {
		return err
	}

	sys, err := runtime.NewSystem(cfg, clock.NewMonotonic(), log)
	if err != nil {
		return err
	}
	if err := spawnChain(sys, cfg.Runtime.Domains, opts.actors, m, opts.trigger); err != nil {
		return err
	}
	if opts.seed != 0 {
		for i := 0; i < cfg.Runtime.Domains; i++ {
			if _, err := sys.Broadcast(i, opts.seed); err != nil {
				return err
			}
		}
	}

	if cfg.Metrics.Enabled {
		srv, err := runtime.StartMetricsServer(cfg.Metrics.Address, sys.Collectors(), sys.DebugHandler(), log.Named("metrics"))
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if root.configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, root.configPath, log.Named("config"), func(c *config.Config) {
				lvl, err := logging.ParseLevel(c.Logging.Level)
				if err != nil {
					return
				}
				level.SetLevel(lvl)
			})
		})
	}

	var steps uint64
	start := time.Now()
	g.Go(func() error {
		defer cancel()
		var tick <-chan time.Time
		if opts.interval > 0 {
			t := time.NewTicker(opts.interval)
			defer t.Stop()
			tick = t.C
		}
		for opts.ticks == 0 || steps < opts.ticks {
			if tick != nil {
				select {
				case <-gctx.Done():
					return nil
				case <-tick:
				}
			} else if gctx.Err() != nil {
				return nil
			}
			res, err := sys.Step(gctx, signals)
			if err != nil {
				return err
			}
			steps++
			for _, d := range res.Decisions {
				log.Info("supervision decision",
					zap.Uint32("actor", uint32(d.Actor)),
					zap.Stringer("reason", d.Reason),
					zap.Stringer("action", d.Action))
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	p := sys.Matrix().Perf()
	log.Info("run finished",
		zap.Uint64("steps", steps),
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("compliance", p.ComplianceRatio()))
	fmt.Fprintf(out, "run: %s\n", sys.RunID)
	fmt.Fprintf(out, "ticks: %d\n", sys.Matrix().GlobalTick())
	fmt.Fprintf(out, "executions: %d\n", p.Executions)
	fmt.Fprintf(out, "compliance: %.4f\n", p.ComplianceRatio())
	fmt.Fprintf(out, "trinity: %016x\n", sys.TrinityHash())
	return nil
}
