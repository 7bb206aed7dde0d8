// cmd/bench is a latency micro-benchmark against a running dynamokv
// cluster: it alternates ClientPut/ClientGet against a rotating set of
// keys and reports p50/p95/p99 latency per operation type.
//
// Usage:
//
//	bench --server http://localhost:8080 --ops 2000 --keys 100
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"dynamokv/internal/client"
)

func main() {
	serverAddr := flag.String("server", "http://localhost:8080", "Node address to issue operations against")
	ops := flag.Int("ops", 1000, "Total number of operations to run")
	keySpace := flag.Int("keys", 100, "Number of distinct keys to rotate through")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-operation timeout")
	flag.Parse()

	c := client.New(*serverAddr, *timeout)
	ctx := context.Background()

	var putLatencies, getLatencies []time.Duration

	for i := 0; i < *ops; i++ {
		key := fmt.Sprintf("key%d", i%*keySpace)
		start := time.Now()

		if i%2 == 0 {
			value := fmt.Sprintf("value_%d", i)
			if _, err := c.Put(ctx, key, value, nil); err != nil {
				log.Printf("PUT %s: %v", key, err)
				continue
			}
			putLatencies = append(putLatencies, time.Since(start))
		} else {
			if _, err := c.Get(ctx, key); err != nil && err != client.ErrNotFound {
				log.Printf("GET %s: %v", key, err)
				continue
			}
			getLatencies = append(getLatencies, time.Since(start))
		}
	}

	report("PUT", putLatencies)
	report("GET", getLatencies)
}

func report(label string, latencies []time.Duration) {
	if len(latencies) == 0 {
		fmt.Printf("%s: no samples\n", label)
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("%s: n=%d p50=%s p95=%s p99=%s max=%s\n",
		label, len(latencies),
		percentile(latencies, 0.50), percentile(latencies, 0.95),
		percentile(latencies, 0.99), latencies[len(latencies)-1])
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
