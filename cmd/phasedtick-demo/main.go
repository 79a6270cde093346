// Command phasedtick-demo runs a small simulation on a phasedtick.Scheduler,
// printing each frame, and a summary of the scheduler's metrics.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-phasedtick"
	"github.com/joeycumines/go-phasedtick/resultcache"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

const pathRoutine resultcache.RoutineID = `path`

type options struct {
	configFile string
	workers    int
	timeoutMs  int
	cycles     int
	hangCycle  int
	slow       time.Duration
	debug      bool
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           `phasedtick-demo`,
		Short:         `Runs a demo simulation on a phased tick scheduler`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return run(cfg, &opts, stdout, stderr)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, `config`, ``, `path to a YAML config file`)
	flags.IntVar(&opts.workers, `workers`, 0, `worker count, overrides the config`)
	flags.IntVar(&opts.timeoutMs, `timeout-ms`, 0, `worker timeout in milliseconds, overrides the config`)
	flags.IntVar(&opts.cycles, `cycles`, 5, `number of cycles to run`)
	flags.IntVar(&opts.hangCycle, `hang-cycle`, 0, `cycle (1-based) on which stage B hangs past the worker timeout, 0 to disable`)
	flags.DurationVar(&opts.slow, `slow`, time.Millisecond*600, `duration of the slow stage (C)`)
	flags.BoolVar(&opts.debug, `debug`, false, `enable debug logging`)

	return cmd
}

func loadConfig(cmd *cobra.Command, opts *options) (phasedtick.Config, error) {
	cfg := phasedtick.DefaultConfig()
	if opts.configFile != `` {
		var err error
		if cfg, err = phasedtick.LoadConfigFile(opts.configFile); err != nil {
			return phasedtick.Config{}, err
		}
	}
	if cmd.Flags().Changed(`workers`) {
		cfg.WorkerCount = opts.workers
	}
	if cmd.Flags().Changed(`timeout-ms`) {
		cfg.WorkerTimeoutMs = opts.timeoutMs
	}
	if opts.cycles < 1 {
		return phasedtick.Config{}, fmt.Errorf(`cycles must be >= 1: %d`, opts.cycles)
	}
	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, debug bool) *logiface.Logger[logiface.Event] {
	level := logiface.LevelInformational
	if debug {
		level = logiface.LevelDebug
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func run(cfg phasedtick.Config, opts *options, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, opts.debug)

	scheduler, err := phasedtick.New(
		cfg,
		phasedtick.WithLogger(logger),
		phasedtick.WithAutoAdvanceTick(true),
		phasedtick.WithStageFailureLogRates(map[time.Duration]int{time.Second: 5, time.Minute: 30}),
		phasedtick.WithWorkerInit(func(workerID int) {
			logger.Debug().Int(`worker`, workerID).Log(`worker ready`)
		}),
	)
	if err != nil {
		return err
	}
	defer scheduler.Close()

	if err := scheduler.BindAffinityThread(); err != nil {
		return err
	}

	if err := scheduler.Cache().Register(pathRoutine, 4); err != nil {
		return err
	}

	sim := newSimulation(scheduler, opts, cfg.WorkerTimeout())
	if err := sim.register(); err != nil {
		return err
	}

	for i := 1; i <= opts.cycles; i++ {
		sim.cycle.Store(int64(i))
		start := time.Now()
		if err := scheduler.RunOneCycle(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "cycle %d: %d draws, %s\n", i, sim.lastFrame, time.Since(start).Round(time.Millisecond))
	}

	printSummary(stdout, scheduler)

	return nil
}

func printSummary(w io.Writer, scheduler *phasedtick.Scheduler) {
	m := scheduler.Metrics()
	cache := scheduler.Cache().Stats()
	fmt.Fprintf(w, "cycles: %d\n", m.Cycles)
	fmt.Fprintf(w, "latency: p50=%s p99=%s max=%s\n",
		m.CycleLatency.P50.Round(time.Millisecond),
		m.CycleLatency.P99.Round(time.Millisecond),
		m.CycleLatency.Max.Round(time.Millisecond))
	fmt.Fprintf(w, "worker aborts: %d\n", m.WorkerAborts)
	fmt.Fprintf(w, "worker replacements: %d\n", m.WorkerReplacements)
	fmt.Fprintf(w, "dropped stages: %d\n", m.DroppedStages)
	fmt.Fprintf(w, "stage failures: %d\n", m.StageFailures)
	fmt.Fprintf(w, "affinity calls: %d\n", m.AffinityCalls)
	fmt.Fprintf(w, "cache: hits=%d misses=%d evictions=%d\n", cache.Hits, cache.Misses, cache.Evictions)
}
