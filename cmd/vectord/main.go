// Command vectord is the daemon entry point: bind a socket, then hand every
// accepted connection to an RPC session (spec.md §6 External Interfaces).
// Binding, accepting connections, and wiring the registry is all this
// package does; authentication and the host database's own GUC/config
// plumbing stay out of scope (spec.md §1).
//
// Grounded on the teacher's absence of a cmd/ directory (libravdb is
// embedded as a library, never its own process) and on the corpus's
// accept-loop daemons instead (e.g. kasuganosora-sqlexec's cmd/service,
// main.go: flag-parsed listen address, net.Listen, srv.Start()).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ivory-labs/vectord/internal/obs"
	"github.com/ivory-labs/vectord/internal/registry"
	"github.com/ivory-labs/vectord/internal/rpc"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code spec.md §6 defines: 0 normal, 1 fatal
// (bind failure, disk error, corrupted meta log).
func run() int {
	var (
		dataDir = flag.String("datadir", "./data", "root directory for per-handle index files")
		network = flag.String("network", "unix", `transport: "unix" or "tcp"`)
		addr    = flag.String("addr", "", "listen address; defaults to <datadir>/_socket for unix, :7512 for tcp")
	)
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		switch *network {
		case "unix":
			listenAddr = filepath.Join(*dataDir, "_socket")
		case "tcp":
			listenAddr = ":7512"
		default:
			log.Printf("vectord: unknown network %q", *network)
			return 1
		}
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Printf("vectord: create datadir: %v", err)
		return 1
	}
	if *network == "unix" {
		// A stale socket file from an unclean shutdown would otherwise make
		// Listen fail with "address already in use".
		_ = os.Remove(listenAddr)
	}

	listener, err := net.Listen(*network, listenAddr)
	if err != nil {
		log.Printf("vectord: listen on %s %s: %v", *network, listenAddr, err)
		return 1
	}
	defer listener.Close()

	reg := registry.New(*dataDir)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	health := obs.NewHealthChecker(reg)
	if status, err := health.Check(ctx); err == nil {
		log.Printf("vectord: startup health: %s", status.Status)
	}

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Printf("vectord: listening on %s %s", *network, listenAddr)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("vectord: accept: %v", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			sess := rpc.NewSession(reg)
			if err := sess.Serve(ctx, conn); err != nil {
				log.Printf("vectord: session error: %v", err)
			}
		}()
	}

	wg.Wait()
	if err := reg.Close(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vectord: shutdown: %v\n", err)
		return 1
	}
	return 0
}
