// Package main provides a benchmark tool for nTorque to measure enqueue
// and drain throughput. It submits a large number of tasks through the
// HTTP ingress and watches the notification channel empty out.
//
// Usage:
//
//	go run benchmark/main.go -tasks 10000 -ingress http://localhost:8080 -url http://localhost:9999/hook
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ntorque/ntorque/pkg/client"
	"github.com/ntorque/ntorque/pkg/notify"
)

func main() {
	numTasks := flag.Int("tasks", 10000, "Number of tasks to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	ingress := flag.String("ingress", "http://localhost:8080", "Ingress base URL")
	hookURL := flag.String("url", "", "Web hook URL the tasks should call")
	apiKey := flag.String("key", "", "API key, when the ingress authenticates")
	redisURL := flag.String("redis", "redis://localhost:6379/0", "Redis URL, for watching channel depth")
	channel := flag.String("channel", notify.DefaultChannel, "Notification channel name")
	flag.Parse()

	if *hookURL == "" {
		fmt.Println("The -url flag is required")
		os.Exit(1)
	}

	c := client.NewHTTPClient(*ingress, *apiKey)
	ctx := context.Background()

	fmt.Printf("nTorque Benchmark\n")
	fmt.Printf("=================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent workers: %d\n\n", *numWorkers)

	// Enqueue phase
	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				_, err := c.Enqueue(ctx, client.Task{
					URL:         *hookURL,
					Body:        fmt.Sprintf(`{"worker": %d, "task": %d}`, workerID, j),
					ContentType: "application/json",
				})
				if err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	// Drain phase: poll the channel until the workers have consumed it
	notifier, err := notify.New(*redisURL)
	if err != nil {
		fmt.Printf("Error connecting to Redis: %v\n", err)
		os.Exit(1)
	}
	defer notifier.Close()

	fmt.Printf("Waiting for the channel to drain...\n")
	startDrain := time.Now()

	for {
		depth, err := notifier.Length(ctx, *channel)
		if err != nil {
			fmt.Printf("Error reading channel depth: %v\n", err)
			os.Exit(1)
		}
		if depth == 0 {
			break
		}
		time.Sleep(2 * time.Second)
		fmt.Printf("  Remaining: %d notifications\n", depth)
	}

	drainTime := time.Since(startDrain)

	fmt.Printf("\n✓ Channel drained in %s\n", drainTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n", float64(*numTasks)/drainTime.Seconds())

	totalTime := enqueueTime + drainTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(*numTasks)/totalTime.Seconds())
}
