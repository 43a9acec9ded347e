// Command ipwall is the long-lived block daemon: it accepts BLOCK/UNBLOCK
// requests from bus peers, keeps the authoritative in-memory block
// collection, persists it to sqlite, and expires bans on a single wakeup
// timer, grounded on original_source/tools/ipwall/server.cpp and
// block_info.cpp. The process shape (config → logger → ctx →
// goroutine-driven listeners → signal-triggered graceful shutdown) follows
// the teacher's cmd/server/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/m2osw/ipload/internal/apply"
	"github.com/m2osw/ipload/internal/bus"
	"github.com/m2osw/ipload/internal/config"
	"github.com/m2osw/ipload/internal/daemonblock"
	"github.com/m2osw/ipload/internal/daemonblock/store"
	"github.com/m2osw/ipload/internal/daemonmetrics"
	"github.com/m2osw/ipload/internal/logger"
	"github.com/m2osw/ipload/internal/model"
	"github.com/m2osw/ipload/internal/scheme"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipwall: failed to load configuration:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipwall: failed to init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting ipwall block daemon")

	db, err := store.Open(cfg.StatePath)
	if err != nil {
		log.Fatal("failed to open block store", "error", err)
	}
	defer db.Close()

	schemes, err := scheme.LoadDir(cfg.SchemesDir, "all")
	if err != nil {
		log.Fatal("failed to load schemes", "error", err)
	}

	metrics := daemonmetrics.Get()
	applier := apply.New(log)
	ctx := context.Background()

	collection := daemonblock.New(log, func(rec *model.BlockRecord) {
		metrics.RecordExpiration()
		if sc, err := schemes.Resolve(rec.Scheme); err == nil {
			if err := applier.Unblock(ctx, sc, []string{rec.IP}); err != nil {
				log.Error("failed to unblock expired ip", "ip", rec.IP, "error", err)
			}
		}
		if err := db.Delete(ctx, rec.IP); err != nil {
			log.Error("failed to delete expired block record", "ip", rec.IP, "error", err)
		}
	})

	restored, err := db.LoadAll(ctx)
	if err != nil {
		log.Fatal("failed to load persisted block records", "error", err)
	}
	collection.Restore(restored)
	log.Info("block collection restored", "count", len(restored))

	hub := bus.NewHub(log, cfg.BusToken, handler(log, metrics, schemes, applier, collection, db, ctx))
	go hub.Run()

	mux := http.NewServeMux()
	mux.Handle("/ipwall", hub)
	if cfg.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", daemonmetrics.Handler())
		go func() {
			log.Info("metrics listening", "address", cfg.MetricsAddress)
			if err := http.ListenAndServe(cfg.MetricsAddress, metricsMux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: cfg.BusAddress, Handler: mux}
	go func() {
		log.Info("bus listening", "address", cfg.BusAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("bus server failed", "error", err)
		}
	}()

	hub.Broadcast(bus.FirewallUp())

	<-sigCtx.Done()
	log.Info("shutting down gracefully")
	collection.Stop()
	hub.Stop()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error("bus server shutdown error", "error", err)
	}
	log.Info("ipwall stopped")
}

// handler builds the bus.Handler dispatching IPWALL_BLOCK/IPWALL_UNBLOCK/
// IPWALL_GET_STATUS, per server.cpp's message protocol.
func handler(
	log *logger.Logger,
	metrics *daemonmetrics.Registry,
	schemes *scheme.Store,
	applier *apply.Applier,
	collection *daemonblock.Collection,
	db *store.Store,
	ctx context.Context,
) bus.Handler {
	return func(msg bus.Message) (bus.Message, bool) {
		metrics.RecordBusMessage(msg.Command)
		switch msg.Command {
		case bus.CmdBlock:
			handleBlock(log, metrics, schemes, applier, collection, db, ctx, msg)
			return bus.Message{}, false

		case bus.CmdUnblock:
			handleUnblock(log, metrics, schemes, applier, collection, db, ctx, msg)
			return bus.Message{}, false

		case bus.CmdGetStatus:
			return bus.CurrentStatus(true, msg.ID), true

		default:
			log.Warn("discarding unknown bus command", "command", msg.Command)
			return bus.Message{}, false
		}
	}
}

// parseURI splits a BLOCK/UNBLOCK "uri" field into scheme and IP, per
// block_info::set_uri: "scheme://ip", or a bare IP defaulting to "all".
func parseURI(uri string) (scheme, ip string) {
	if idx := strings.Index(uri, "://"); idx >= 0 {
		return uri[:idx], uri[idx+3:]
	}
	return "all", uri
}

func handleBlock(
	log *logger.Logger,
	metrics *daemonmetrics.Registry,
	schemes *scheme.Store,
	applier *apply.Applier,
	collection *daemonblock.Collection,
	db *store.Store,
	ctx context.Context,
	msg bus.Message,
) {
	uri := msg.Fields["uri"]
	if uri == "" {
		log.Warn("BLOCK without a uri, ignoring")
		return
	}
	schemeName, ip := parseURI(uri)
	period := msg.Fields["period"]
	reason := msg.Fields["reason"]

	rec, recognized := collection.Block(schemeName, ip, period, reason)
	if !recognized {
		log.Warn("BLOCK with unrecognized period, using default", "period", period, "ip", ip)
	}

	sc, err := schemes.Resolve(rec.Scheme)
	if err != nil {
		log.Error("failed to resolve scheme for block", "scheme", rec.Scheme, "error", err)
		return
	}
	if err := applier.Block(ctx, sc, []string{ip}); err != nil {
		log.Error("failed to apply block", "ip", ip, "error", err)
		return
	}
	if err := db.Save(ctx, rec); err != nil {
		log.Error("failed to persist block record", "ip", ip, "error", err)
	}
	metrics.RecordBlock(rec.Scheme)
	log.Info("ip blocked", "ip", ip, "scheme", rec.Scheme, "until", rec.BlockUntil)
}

func handleUnblock(
	log *logger.Logger,
	metrics *daemonmetrics.Registry,
	schemes *scheme.Store,
	applier *apply.Applier,
	collection *daemonblock.Collection,
	db *store.Store,
	ctx context.Context,
	msg bus.Message,
) {
	uri := msg.Fields["uri"]
	if uri == "" {
		log.Warn("UNBLOCK without a uri, ignoring")
		return
	}
	_, ip := parseURI(uri)

	rec, ok := collection.Unblock(ip)
	if !ok {
		log.Warn("UNBLOCK for an ip with no block record", "ip", ip)
		return
	}

	sc, err := schemes.Resolve(rec.Scheme)
	if err != nil {
		log.Error("failed to resolve scheme for unblock", "scheme", rec.Scheme, "error", err)
		return
	}
	if err := applier.Unblock(ctx, sc, []string{ip}); err != nil {
		log.Error("failed to apply unblock", "ip", ip, "error", err)
		return
	}
	if err := db.Delete(ctx, ip); err != nil {
		log.Error("failed to delete block record", "ip", ip, "error", err)
	}
	metrics.RecordUnblock(rec.Scheme)
	log.Info("ip unblocked", "ip", ip, "scheme", rec.Scheme)
}
