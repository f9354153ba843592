// Command probe checks which peers answer the gRPC health check and what a
// quorum vote over them would decide.
//
//	probe -peers node1:8080,node2:8080,node3:8080 -timeout 3s
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrquorum/internal/logging"
	"github.com/ryandielhenn/zephyrquorum/pkg/probe"
	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
	"github.com/ryandielhenn/zephyrquorum/pkg/topology"
)

func main() {
	peers := flag.String("peers", "", "comma-separated peer addresses")
	timeout := flag.Duration("timeout", quorum.DefaultDiscoveryTimeout, "discovery timeout")
	verbose := flag.Bool("v", false, "log probe details")
	flag.Parse()

	addrs := splitPeers(*peers)
	if len(addrs) == 0 {
		fmt.Fprintln(os.Stderr, "no peers given, use -peers host:port,...")
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	prober := probe.NewGRPCProber(*timeout)

	// Individual reachability, all at once.
	start := time.Now()
	results := make([]string, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			results[i] = check(prober, addr, *timeout)
		}(i, addr)
	}
	wg.Wait()
	for i, addr := range addrs {
		fmt.Printf("%-30s %s\n", addr, results[i])
	}
	fmt.Printf("probed %d peers in %s\n", len(addrs), time.Since(start).Round(time.Millisecond))

	// The same peers as an electorate.
	feed := topology.NewFeed()
	tracker, err := quorum.NewTracker(feed, "probe-target")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer tracker.Close()
	for i, addr := range addrs {
		feed.NodeUp(addr, topology.ConnectorPair{Live: &topology.Connector{Name: "grpc", Addr: addr}}, i == len(addrs)-1)
	}
	engine, err := quorum.NewEngine(tracker, prober, quorum.WithDiscoveryTimeout(*timeout), quorum.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	r := engine.Vote(context.Background())
	fmt.Printf("vote: %d/%d reachable -> target would be considered %s (%s)\n",
		r.Successes, r.Electorate, r.Outcome(), r.Reason)
}

func check(p *probe.GRPCProber, addr string, timeout time.Duration) string {
	pr, err := p.NewProbe(&topology.Connector{Name: "grpc", Addr: addr})
	if err != nil {
		return "INVALID " + err.Error()
	}
	defer pr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	t := time.Now()
	if err := pr.Connect(ctx); err != nil {
		return "DOWN    " + err.Error()
	}
	return fmt.Sprintf("UP      %s", time.Since(t).Round(time.Millisecond))
}

func splitPeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
