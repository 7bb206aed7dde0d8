// cmd/dynamonode is the main entrypoint for a dynamokv cluster node.
//
// Configuration comes from flags, with an optional YAML file as a base
// layer, so a whole cluster's node_id-to-address map can live in one
// file instead of being repeated on every node's command line.
//
// Example — single node:
//
//	./dynamonode --id node1 --addr :8080
//
// Example — 3-node cluster:
//
//	./dynamonode --id node1 --addr :8080 --peers node2=localhost:8081,node3=localhost:8082
//	./dynamonode --id node2 --addr :8081 --peers node1=localhost:8080,node3=localhost:8082
//	./dynamonode --id node3 --addr :8082 --peers node1=localhost:8080,node2=localhost:8081
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dynamokv/internal/config"
	"dynamokv/internal/coordinator"
	"dynamokv/internal/transport"
)

func main() {
	nodeID := flag.String("id", "", "Unique node identifier (required)")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer nodes: id=host:port")
	configPath := flag.String("config", "", "Optional YAML config file")
	n := flag.Int("n", 0, "Replication factor (N)")
	w := flag.Int("w", 0, "Write quorum (W)")
	r := flag.Int("r", 0, "Read quorum (R)")
	t := flag.Int("t", 0, "Virtual nodes per physical node (T)")
	reqTimeoutMs := flag.Int("request-timeout-ms", 0, "Per-request deadline in milliseconds")
	pingIntervalMs := flag.Int("ping-interval-ms", 0, "Failure-detector ping interval in milliseconds")
	antiEntropyBatch := flag.Int("anti-entropy-batch", 0, "Keys swept per anti-entropy tick")
	tickInterval := flag.Duration("tick", 100*time.Millisecond, "How often to run the per-event preamble")
	flag.Parse()

	file, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	resolved, err := config.Resolve(file, config.Flags{
		NodeID: *nodeID, Addr: *addr, Peers: *peersFlag,
		N: *n, W: *w, R: *r, T: *t,
		RequestTimeoutMs: *reqTimeoutMs, PingIntervalMs: *pingIntervalMs, AntiEntropyBatch: *antiEntropyBatch,
	})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	node := coordinator.New(resolved.Node)
	bus := transport.NewHTTPBus(node, resolved.Node.NodeID, resolved.PeerAddrs, 2*time.Second)

	srv := &http.Server{
		Addr:         resolved.Addr,
		Handler:      bus.Engine(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			bus.Tick()
		}
	}()

	go func() {
		log.Printf("node %s listening on %s (N=%d W=%d R=%d T=%d), peers=%v",
			resolved.Node.NodeID, resolved.Addr, resolved.Node.N, resolved.Node.W, resolved.Node.R, resolved.Node.T, resolved.PeerAddrs)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", resolved.Node.NodeID)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	bus.Close()
}
