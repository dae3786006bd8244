// Command turndserve wires the four core subsystems (wire, session,
// router, transport) into a runnable binary with a static in-code
// configuration. It is demonstration plumbing, not a configuration
// subsystem: flags cover only what's needed to point the listener
// somewhere useful.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turnhub/turnd/internal/boundary"
	"github.com/turnhub/turnd/internal/filter"
	"github.com/turnhub/turnd/internal/router"
	"github.com/turnhub/turnd/internal/session"
	"github.com/turnhub/turnd/internal/transport"
)

var (
	udpAddr  = flag.String("udp", "0.0.0.0:3478", "address to listen for STUN/TURN over UDP")
	tcpAddr  = flag.String("tcp", "0.0.0.0:3478", "address to listen for STUN/TURN over TCP")
	external = flag.String("external", "127.0.0.1:3478", "address advertised in XOR-RELAYED-ADDRESS/XOR-MAPPED-ADDRESS")
	realm    = flag.String("realm", "turnd.example", "realm sent in long-term-credential challenges")
	minPort  = flag.Int("min-port", 49152, "lowest virtual relay port handed out")
	maxPort  = flag.Int("max-port", 65535, "highest virtual relay port handed out")
	username = flag.String("username", "demo", "single static credential's username, for proving the core runs")
	password = flag.String("password", "demo", "single static credential's password")
)

func main() {
	flag.Parse()

	logCfg := zap.NewDevelopmentConfig()
	logCfg.DisableCaller = true
	logCfg.DisableStacktrace = true
	start := time.Now()
	logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%04dms", time.Since(start).Milliseconds()))
	}
	log, err := logCfg.Build()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	sessions := session.NewManager(session.Options{
		Log:     log.Named("session"),
		RelayIP: externalIP(*external, log),
		MinPort: *minPort,
		MaxPort: *maxPort,
	})

	auth := boundary.NewStaticAuthHandler(*realm, []boundary.StaticCredential{
		{Username: *username, Password: *password},
	})

	r := router.New(router.Options{
		Log:          log.Named("router"),
		Realm:        *realm,
		Software:     "turnd",
		Sessions:     sessions,
		Auth:         auth,
		Events:       boundary.NoopEventSink{},
		PeerFilter:   filter.NewFilter(filter.Allow),
		ClientFilter: filter.NewFilter(filter.Allow),
	})

	orch, err := transport.New(transport.Options{
		Log:      log.Named("transport"),
		Router:   r,
		Sessions: sessions,
		Interfaces: []transport.Interface{
			{Name: "udp0", Transport: transport.TransportUDP, Bind: *udpAddr, External: *external},
			{Name: "tcp0", Transport: transport.TransportTCP, Bind: *tcpAddr, External: *external},
		},
	})
	if err != nil {
		log.Fatal("failed to build transport orchestrator", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("turndserve listening",
		zap.String("udp", *udpAddr),
		zap.String("tcp", *tcpAddr),
		zap.String("external", *external),
	)
	if err := orch.Serve(ctx); err != nil {
		log.Fatal("orchestrator stopped with error", zap.Error(err))
	}
}

// externalIP extracts the host portion of addr as the RelayIP the
// SessionManager advertises; turndserve only supports a single external
// address, matching transport.chooseRelayOwner's single-relay-address
// assumption.
func externalIP(addr string, log *zap.Logger) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		log.Fatal("invalid -external address", zap.String("addr", addr), zap.Error(err))
	}
	ip := net.ParseIP(host)
	if ip == nil {
		log.Fatal("-external address is not an IP literal", zap.String("addr", addr))
	}
	return ip
}
