package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var ErrBadCACert = errors.New("unable to parse CA cert")

type ProbeConfig struct {
	Target     string
	Service    string
	Timeout    time.Duration
	UseTLS     bool
	CACertPath string
	ServerName string
}

// Probe asks the health service at cfg.Target about cfg.Service and returns
// the reported status, e.g. "SERVING".
func Probe(ctx context.Context, cfg ProbeConfig) (string, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  200 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   5 * time.Second,
			},
			MinConnectTimeout: cfg.Timeout,
		}),
	}
	creds, err := transportCredentials(cfg)
	if err != nil {
		return "", err
	}
	opts = append(opts, grpc.WithTransportCredentials(creds))

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: cfg.Service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

func transportCredentials(cfg ProbeConfig) (credentials.TransportCredentials, error) {
	if !cfg.UseTLS {
		return insecure.NewCredentials(), nil
	}
	if cfg.CACertPath == "" {
		// System CA
		return credentials.NewClientTLSFromCert(nil, cfg.ServerName), nil
	}
	pem, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(pem); !ok {
		return nil, ErrBadCACert
	}
	tlsCfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	return credentials.NewTLS(tlsCfg), nil
}
