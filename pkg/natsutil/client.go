// Package natsutil dials the NATS connection artgate shares between the
// inference client, the chunk ingest pipeline and the request responder.
package natsutil

import (
	"fmt"
	"time"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	// DefaultConnectionName is reported to the server when none is configured.
	DefaultConnectionName = "artgate"

	// DefaultReconnectBuffer holds a few chunk uploads while reconnecting.
	DefaultReconnectBuffer = 16 * 1024 * 1024
)

// Options translates the nats section of the config into client options.
func Options(cfg config.NATSConfig, logger *zap.Logger) ([]nats.Option, error) {
	name := cfg.ConnectionName
	if name == "" {
		name = DefaultConnectionName
	}
	bufSize := int(cfg.ReconnectBuffer)
	if bufSize <= 0 {
		bufSize = DefaultReconnectBuffer
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
		nats.ReconnectBufSize(bufSize),
		nats.PingInterval(20 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected, inference and ingest paused", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Error("NATS async error", zap.String("subject", sub.Subject), zap.Error(err))
				return
			}
			logger.Error("NATS async error", zap.Error(err))
		}),
	}

	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}
	if cfg.NKeySeedFile != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading nkey seed: %w", err)
		}
		opts = append(opts, opt)
	}
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	if cfg.TLS.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
	}
	return opts, nil
}

// Connect dials NATS with the configured identity and reconnect policy.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts, err := Options(cfg, logger)
	if err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS",
		zap.String("url", nc.ConnectedUrl()),
		zap.String("server_id", nc.ConnectedServerId()),
		zap.String("name", nc.Opts.Name),
	)
	return nc, nil
}

// ConnectJetStream dials NATS and opens a JetStream context on the
// connection. The caller owns the returned connection.
func ConnectJetStream(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := Connect(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	return nc, js, nil
}
