// Package config loads a node's bootstrap configuration from an optional
// YAML file with flag overrides on top, the way cmd/dynamonode wants
// it. A multi-node cluster is tedious to stand up from flags alone, so
// this package adds one YAML base layer beneath the same flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dynamokv/internal/coordinator"

	"gopkg.in/yaml.v3"
)

// File is the optional on-disk base layer. Any field a flag also sets is
// overridden by the flag; File exists so a cluster's node_id-to-address
// map doesn't have to be retyped on every node's command line.
type File struct {
	NodeID           string            `yaml:"node_id"`
	Addr             string            `yaml:"addr"`
	Peers            map[string]string `yaml:"peers"`
	N                int               `yaml:"n"`
	W                int               `yaml:"w"`
	R                int               `yaml:"r"`
	T                int               `yaml:"t"`
	RequestTimeoutMs int               `yaml:"request_timeout_ms"`
	PingIntervalMs   int               `yaml:"ping_interval_ms"`
	AntiEntropyBatch int               `yaml:"anti_entropy_batch"`
}

// LoadFile reads and parses a YAML config file. An empty path is not an
// error — it just yields a zero File, so --config is always optional.
func LoadFile(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// ParsePeers parses "id=host:port,id2=host:port" into a node-id-to-
// address map.
func ParsePeers(flagVal string) (map[string]string, error) {
	peers := make(map[string]string)
	if flagVal == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(flagVal, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer format %q: expected id=host:port", entry)
		}
		peers[parts[0]] = parts[1]
	}
	return peers, nil
}

// Resolved is everything cmd/dynamonode needs to stand up one node: the
// address it listens on, every known node's base URL (including its
// own), and the coordinator's tunables.
type Resolved struct {
	Addr      string
	PeerAddrs map[string]string // node id -> "http://host:port"
	Node      coordinator.Config
}

// Flags carries the command-line overrides. A zero value for any numeric
// field, or an empty string, means "not set on the command line — fall
// back to the file, then to the coordinator package's own defaults." The
// coordinator has defaults for T, the request timeout, the ping interval and
// the anti-entropy batch; N, W and R have none and stay zero if neither
// the flag nor the file sets them.
type Flags struct {
	NodeID           string
	Addr             string
	Peers            string
	N, W, R, T       int
	RequestTimeoutMs int
	PingIntervalMs   int
	AntiEntropyBatch int
}

// Resolve merges a YAML base layer with flag overrides into a Resolved
// config ready for cmd/dynamonode to build a coordinator.Node and an
// HTTPBus from.
func Resolve(file File, flags Flags) (Resolved, error) {
	nodeID := firstNonEmpty(flags.NodeID, file.NodeID)
	if nodeID == "" {
		return Resolved{}, fmt.Errorf("node_id is required (--id or config node_id)")
	}
	addr := firstNonEmpty(flags.Addr, file.Addr)

	peers, err := ParsePeers(flags.Peers)
	if err != nil {
		return Resolved{}, err
	}
	if len(peers) == 0 {
		peers = file.Peers
	}

	n := firstNonZero(flags.N, file.N)
	w := firstNonZero(flags.W, file.W)
	r := firstNonZero(flags.R, file.R)
	t := firstNonZero(flags.T, file.T)
	reqTimeoutMs := firstNonZero(flags.RequestTimeoutMs, file.RequestTimeoutMs)
	pingIntervalMs := firstNonZero(flags.PingIntervalMs, file.PingIntervalMs)
	antiEntropyBatch := firstNonZero(flags.AntiEntropyBatch, file.AntiEntropyBatch)

	peerAddrs := make(map[string]string, len(peers)+1)
	nodes := make([]string, 0, len(peers)+1)
	for id, a := range peers {
		peerAddrs[id] = normalizeAddr(a)
		nodes = append(nodes, id)
	}
	if addr != "" {
		peerAddrs[nodeID] = normalizeAddr(addr)
	}
	nodes = append(nodes, nodeID)

	cfg := coordinator.Config{NodeID: nodeID, Nodes: nodes, N: n, W: w, R: r, T: t}
	if reqTimeoutMs > 0 {
		cfg.RequestTimeout = time.Duration(reqTimeoutMs) * time.Millisecond
	}
	if pingIntervalMs > 0 {
		cfg.PingInterval = time.Duration(pingIntervalMs) * time.Millisecond
	}
	if antiEntropyBatch > 0 {
		cfg.AntiEntropyBatch = antiEntropyBatch
	}

	return Resolved{Addr: addr, PeerAddrs: peerAddrs, Node: cfg}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
