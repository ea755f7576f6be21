package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	grpcadapter "github.com/aq2208/portfolio-api/internal/adapter/grpc"
)

func NewHealthcheckCommand(rootOpts *RootOptions) *cobra.Command {
	probe := grpcadapter.ProbeConfig{}
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health service of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if probe.Target == "" {
				cfg, err := rootOpts.load()
				if err != nil {
					return err
				}
				probe.Target = dialTarget(cfg.App.GRPCAddr)
			}
			status, err := grpcadapter.Probe(cmd.Context(), probe)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != "SERVING" {
				return fmt.Errorf("service %q is %s", probe.Service, status)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&probe.Target, "target", "", "host:port of the health server (default: app.grpc_addr)")
	f.StringVar(&probe.Service, "service", grpcadapter.ServiceAPI, "service name, empty for the whole process")
	f.DurationVar(&probe.Timeout, "timeout", 5*time.Second, "probe timeout")
	f.BoolVar(&probe.UseTLS, "tls", false, "dial with TLS")
	f.StringVar(&probe.CACertPath, "ca-cert", "", "CA bundle for --tls")
	f.StringVar(&probe.ServerName, "server-name", "", "TLS server name override")
	return cmd
}

// dialTarget turns a listen address like ":9090" into a dialable one.
func dialTarget(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}
