// cmd/cartdemo is a scripted shopping-cart demo client: a cart is a
// JSON-encoded sku-to-quantity map stored under key "cart:<id>"; every mutation reads
// the current sibling set first, merges siblings by summing quantities
// per sku, applies the add/remove, and writes the result back carrying
// every sibling's clock as Metadata so the write converges instead of
// forking a new sibling for no reason.
//
// This demonstrates scenario 2/3 of the coordinator's end-to-end behavior
// (concurrent writes fork into siblings; a read-then-write converges
// them) at the application level — it is not itself part of the core.
//
// Usage:
//
//	cartdemo --server http://localhost:8080 --cart abc123
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"dynamokv/internal/client"
	"dynamokv/internal/vclock"
)

// cart is the JSON shape stored as a dynamokv value — a plain sku-to-
// quantity map.
type cart struct {
	Items map[string]uint32 `json:"items"`
}

func mergeCarts(values []string) cart {
	merged := cart{Items: make(map[string]uint32)}
	for _, v := range values {
		var c cart
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			continue
		}
		for sku, qty := range c.Items {
			merged.Items[sku] += qty
		}
	}
	return merged
}

func (c cart) toJSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return `{"items":{}}`
	}
	return string(data)
}

// readMergedCart issues the read-before-write GET and returns the merged
// cart plus the sibling clocks to carry forward on the next PUT.
func readMergedCart(ctx context.Context, c *client.Client, key string) (cart, []vclock.Clock, error) {
	resp, err := c.Get(ctx, key)
	if err == client.ErrNotFound {
		return cart{Items: make(map[string]uint32)}, nil, nil
	}
	if err != nil {
		return cart{}, nil, err
	}
	return mergeCarts(resp.Values), resp.Metadata, nil
}

func addItem(ctx context.Context, c *client.Client, tab, cartID, sku string, qty uint32) error {
	key := fmt.Sprintf("cart:%s", cartID)
	current, metadata, err := readMergedCart(ctx, c, key)
	if err != nil {
		return err
	}
	current.Items[sku] += qty
	log.Printf("[%s] add sku=%s qty=%d -> %v", tab, sku, qty, current.Items)
	_, err = c.Put(ctx, key, current.toJSON(), metadata)
	return err
}

func removeItem(ctx context.Context, c *client.Client, tab, cartID, sku string, qty uint32) error {
	key := fmt.Sprintf("cart:%s", cartID)
	current, metadata, err := readMergedCart(ctx, c, key)
	if err != nil {
		return err
	}
	if current.Items[sku] <= qty {
		delete(current.Items, sku)
	} else {
		current.Items[sku] -= qty
	}
	log.Printf("[%s] remove sku=%s qty=%d -> %v", tab, sku, qty, current.Items)
	_, err = c.Put(ctx, key, current.toJSON(), metadata)
	return err
}

func main() {
	serverA := flag.String("server", "http://localhost:8080", "Node address for browser tab A")
	serverB := flag.String("server-b", "", "Node address for browser tab B (defaults to --server; set a second node's address to exercise cross-node siblings)")
	cartID := flag.String("cart", "demo", "Cart identifier")
	flag.Parse()

	if *serverB == "" {
		*serverB = *serverA
	}

	ctx := context.Background()
	tabA := client.New(*serverA, 5*time.Second)
	tabB := client.New(*serverB, 5*time.Second)

	key := fmt.Sprintf("cart:%s", *cartID)

	// Two browser tabs add items to the same cart: both read it before
	// either writes, so neither tab has seen the other's clock and the two
	// writes race. When different nodes coordinate the two writes, the cart
	// key forks into siblings.
	cartA, metaA, errA := readMergedCart(ctx, tabA, key)
	cartB, metaB, errB := readMergedCart(ctx, tabB, key)
	if errA != nil || errB != nil {
		log.Fatalf("read before concurrent adds: tab-a=%v tab-b=%v", errA, errB)
	}
	cartA.Items["sku-shoes"] += 1
	cartB.Items["sku-hat"] += 2
	if _, err := tabA.Put(ctx, key, cartA.toJSON(), metaA); err != nil {
		log.Fatalf("tab-a add: %v", err)
	}
	if _, err := tabB.Put(ctx, key, cartB.toJSON(), metaB); err != nil {
		log.Fatalf("tab-b add: %v", err)
	}

	resp, err := tabA.Get(ctx, key)
	if err != nil {
		log.Fatalf("get after concurrent adds: %v", err)
	}
	if len(resp.Values) > 1 {
		fmt.Printf("cart %q forked into %d siblings after concurrent adds\n", *cartID, len(resp.Values))
	}

	// A third write reads the sibling set, merges it, and carries every
	// sibling's clock forward — this converges the cart back to one
	// version instead of forking again.
	if err := removeItem(ctx, tabA, "tab-a", *cartID, "sku-hat", 1); err != nil {
		log.Fatalf("converge: %v", err)
	}

	final, err := tabA.Get(ctx, key)
	if err != nil {
		log.Fatalf("final get: %v", err)
	}
	if len(final.Values) != 1 {
		log.Fatalf("expected convergence, still have %d siblings", len(final.Values))
	}
	merged := mergeCarts(final.Values)
	skus := make([]string, 0, len(merged.Items))
	for sku := range merged.Items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	fmt.Printf("converged cart %q:\n", *cartID)
	for _, sku := range skus {
		fmt.Printf("  %s x%d\n", sku, merged.Items[sku])
	}
}
