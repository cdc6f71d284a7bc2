// Command offload-demo pushes a mixed workload through a scheduler and prints
// the resulting statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/jzx17/offload/internal/config"
	"github.com/jzx17/offload/pkg/handlers"
	"github.com/jzx17/offload/pkg/scheduler"
	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

const sampleText = "The scheduler accepts work from many callers. Work runs on a small pool. " +
	"High priority work jumps the queue. Results are kept for a while and swept later. " +
	"Timeouts resolve callers even when a worker is still busy."

func main() {
	total := flag.Int("tasks", 200, "number of tasks to submit")
	poolSize := flag.Int("pool", 0, "execution units (0 picks the default)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger := config.NewLogger(os.Stderr, *logLevel)

	reg := worker.NewRegistry()
	if err := handlers.RegisterBuiltins(reg); err != nil {
		log.Fatalf("failed to register handlers: %v", err)
	}

	sched, err := scheduler.New(&scheduler.Config{
		PoolSize:       *poolSize,
		DefaultTimeout: 5 * time.Second,
		Registry:       reg,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer func() {
		if err := sched.Shutdown(context.Background()); err != nil {
			red.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	bold.Printf("Offloading %d tasks (scheduler %s)\n\n", *total, sched.ID())

	bar := progressbar.NewOptions(*total,
		progressbar.OptionSetDescription("Running tasks"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
	)

	ctx := context.Background()
	start := time.Now()

	var (
		mu       sync.Mutex
		outcomes = make(map[types.Status]int)
		wg       sync.WaitGroup
	)
	for i := range *total {
		taskType, payload, opts := workload(i)

		p, err := sched.Enqueue(ctx, taskType, payload, opts...)
		if err != nil {
			red.Fprintf(os.Stderr, "submit %d: %v\n", i, err)
			_ = bar.Add(1)
			continue
		}
		if i%25 == 24 {
			sched.Cancel(p.ID())
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Wait(ctx)
			rec, _ := p.Record()

			mu.Lock()
			outcomes[rec.Status]++
			mu.Unlock()
			_ = bar.Add(1)
		}()
	}
	wg.Wait()
	_ = bar.Finish()
	fmt.Println()
	fmt.Println()

	st, err := sched.Statistics()
	if err != nil {
		log.Fatalf("statistics: %v", err)
	}

	renderOutcomes(outcomes, time.Since(start))
	renderWorkers(st)

	rate := fmt.Sprintf("%.1f%%", st.SuccessRate*100)
	switch {
	case st.SuccessRate >= scheduler.DefaultSuccessRateWarnThreshold:
		green.Printf("Success rate %s over %d processed tasks\n", rate, st.TotalProcessed)
	default:
		yellow.Printf("Success rate %s over %d processed tasks\n", rate, st.TotalProcessed)
	}
	if st.Degraded {
		yellow.Printf("Pool degraded: %d of %d units running\n", st.PoolSize, st.RequestedPoolSize)
	}
}

// workload returns the i-th task of a deterministic mix. Every seventh task
// is high priority, every eleventh carries a transform the handler rejects
// and every nineteenth gets a deadline it cannot meet.
func workload(i int) (worker.TaskType, any, []scheduler.Option) {
	var opts []scheduler.Option
	if i%7 == 0 {
		opts = append(opts, scheduler.WithPriority(types.PriorityHigh))
	}
	if i%19 == 18 {
		opts = append(opts, scheduler.WithTimeout(time.Nanosecond))
	}

	switch i % 6 {
	case 0:
		return worker.TypeSummarize, handlers.SummarizeRequest{Text: sampleText, MaxSentences: 2}, opts
	case 1:
		return worker.TypeSemanticAnalysis, handlers.AnalyzeRequest{Text: sampleText}, opts
	case 2:
		items := make([]handlers.ContextItem, 20)
		for j := range items {
			items[j] = handlers.ContextItem{
				ID:        fmt.Sprintf("item-%d", j),
				Content:   strings.Repeat("context ", j+1),
				Relevance: float64((i+j)%10) / 10,
			}
		}
		return worker.TypeContextOptimize, handlers.OptimizeRequest{Items: items, TokenBudget: 64}, opts
	case 3:
		return worker.TypeIndex, handlers.IndexRequest{Documents: []handlers.Document{
			{ID: fmt.Sprintf("doc-%d-a", i), Text: sampleText},
			{ID: fmt.Sprintf("doc-%d-b", i), Text: "worker pool queue"},
		}}, opts
	case 4:
		return worker.TypeMigrate, handlers.MigrateRequest{
			Records:  []map[string]any{{"name": i, "legacy": true}},
			Rename:   map[string]string{"name": "title"},
			Drop:     []string{"legacy"},
			Defaults: map[string]any{"version": 2},
		}, opts
	default:
		ops := []string{"collapse", "slug"}
		if i%11 == 10 {
			ops = append(ops, "rot13")
		}
		return worker.TypeTransform, handlers.TransformRequest{Text: sampleText, Operations: ops}, opts
	}
}

func renderOutcomes(outcomes map[types.Status]int, elapsed time.Duration) {
	bold.Println("Outcomes")

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Status", "Tasks")
	for _, st := range []types.Status{
		types.StatusCompleted,
		types.StatusFailed,
		types.StatusTimeout,
		types.StatusWorkerError,
		types.StatusCancelled,
	} {
		_ = table.Append(string(st), fmt.Sprint(outcomes[st]))
	}
	_ = table.Append("elapsed", elapsed.Round(time.Millisecond).String())

	if err := table.Render(); err != nil {
		red.Println("Error rendering outcome table")
	}
	fmt.Println()
}

func renderWorkers(st scheduler.Statistics) {
	bold.Println("Workers")

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Busy", "Completed", "Faults", "Last Used")
	for _, w := range st.Workers {
		lastUsed := "-"
		if !w.LastUsed.IsZero() {
			lastUsed = w.LastUsed.Format(time.TimeOnly)
		}
		_ = table.Append(
			fmt.Sprint(w.ID),
			fmt.Sprint(w.Busy),
			fmt.Sprint(w.TasksCompleted),
			fmt.Sprint(w.Faults),
			lastUsed,
		)
	}

	if err := table.Render(); err != nil {
		red.Println("Error rendering worker table")
	}
	fmt.Println()
}
