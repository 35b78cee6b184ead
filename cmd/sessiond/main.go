// Command sessiond runs an HTTP front end over a session cipher backed by
// either an in-memory or a sqlite store, generalizing cmd/mesh-api's flag
// parsing and graceful-shutdown structure from a DHT storage node onto a
// single local identity's SessionCipher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zentalk/ratchetcore/pkg/api"
	"github.com/zentalk/ratchetcore/pkg/cipher"
	"github.com/zentalk/ratchetcore/pkg/memstore"
	"github.com/zentalk/ratchetcore/pkg/sqlstore"
	"github.com/zentalk/ratchetcore/pkg/x3dh"
)

func main() {
	port := flag.Int("port", 8443, "HTTP API port")
	registrationID := flag.Uint("registration-id", 1, "local registration id")
	enableCORS := flag.Bool("cors", true, "enable CORS headers")
	rateLimit := flag.Int("rate-limit", 120, "rate limit (requests per minute)")
	storeBackend := flag.String("store", "memory", "store backend: memory|sqlite")
	dbPath := flag.String("db-path", "./sessiond.db", "sqlite database path (only used with -store=sqlite)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	identity, err := x3dh.GenerateIdentityKeyPair()
	if err != nil {
		logger.Error("generate identity key pair", "error", err)
		os.Exit(1)
	}

	sc, err := buildSessionCipher(*storeBackend, *dbPath, uint32(*registrationID), identity, logger)
	if err != nil {
		logger.Error("build session cipher", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(sc, &api.Config{
		Port:       *port,
		EnableCORS: *enableCORS,
		RateLimit:  *rateLimit,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	fmt.Printf("session cipher daemon listening on :%d\n", *port)
	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// buildSessionCipher wires a SessionCipher to the requested store backend.
// A sqlite backend uses one *sqlstore.Store for all four store interfaces,
// since it implements each of them directly.
func buildSessionCipher(backend, dbPath string, registrationID uint32, identity *x3dh.IdentityKeyPair, logger *slog.Logger) (*cipher.SessionCipher, error) {
	switch backend {
	case "memory":
		return &cipher.SessionCipher{
			Sessions:      memstore.NewSessions(),
			Identities:    memstore.NewIdentities(registrationID, memstore.TrustOnFirstUse),
			PreKeys:       memstore.NewPreKeys(),
			SignedPreKeys: memstore.NewSignedPreKeys(),
			LocalIdentity: identity,
			Logger:        logger,
		}, nil
	case "sqlite":
		db, err := sqlstore.Open(dbPath, registrationID)
		if err != nil {
			return nil, err
		}
		return &cipher.SessionCipher{
			Sessions:      db,
			Identities:    db,
			PreKeys:       db,
			SignedPreKeys: db,
			LocalIdentity: identity,
			Logger:        logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want memory or sqlite)", backend)
	}
}
