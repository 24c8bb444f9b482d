package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/hello-pool/internal/worker"
	"github.com/spf13/cobra"
)

// benchResult summarizes one bench run
type benchResult struct {
	Workers      int
	Submitted    int
	Executed     int64
	LongFinished int // completion position of the long job, 1-based
	Elapsed      time.Duration
}

func buildBenchCommand() *cobra.Command {
	var workers, jobs int
	var short, long time.Duration

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run short jobs next to one long job and report execution counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runBench(workers, jobs, short, long, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "worker count")
	cmd.Flags().IntVarP(&jobs, "jobs", "n", 10, "number of short jobs")
	cmd.Flags().DurationVar(&short, "short", 10*time.Millisecond, "duration of each short job")
	cmd.Flags().DurationVar(&long, "long", time.Second, "duration of the long job")

	return cmd
}

// runBench submits one long job followed by jobs short ones and stops the pool
func runBench(workers, jobs int, short, long time.Duration, log *slog.Logger) (benchResult, error) {
	if workers < 1 {
		return benchResult{}, fmt.Errorf("workers must be at least 1, got %d", workers)
	}
	if jobs < 0 {
		return benchResult{}, fmt.Errorf("jobs must not be negative, got %d", jobs)
	}

	pool := worker.NewPool(workers, worker.WithLogger(log))
	start := time.Now()

	var executed atomic.Int64
	var mu sync.Mutex
	longPos := 0
	finished := 0

	complete := func(isLong bool) {
		mu.Lock()
		finished++
		if isLong {
			longPos = finished
		}
		mu.Unlock()
		executed.Add(1)
	}

	if err := pool.Submit(func() {
		time.Sleep(long)
		complete(true)
	}); err != nil {
		pool.Stop()
		return benchResult{}, err
	}
	for i := 0; i < jobs; i++ {
		if err := pool.Submit(func() {
			time.Sleep(short)
			complete(false)
		}); err != nil {
			pool.Stop()
			return benchResult{}, err
		}
	}

	pool.Stop()

	return benchResult{
		Workers:      workers,
		Submitted:    jobs + 1,
		Executed:     executed.Load(),
		LongFinished: longPos,
		Elapsed:      time.Since(start),
	}, nil
}

func printBench(w io.Writer, res benchResult) {
	fmt.Fprintf(w, "Workers:        %d\n", res.Workers)
	fmt.Fprintf(w, "Submitted:      %d\n", res.Submitted)
	fmt.Fprintf(w, "Executed:       %d\n", res.Executed)
	fmt.Fprintf(w, "Long job done:  #%d of %d\n", res.LongFinished, res.Submitted)
	fmt.Fprintf(w, "Elapsed:        %s\n", res.Elapsed.Round(time.Millisecond))
}
