package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/agentgov/internal/server"
)

var (
	serveGRPCAddr string
	serveHTTPAddr string
	serveNoWatch  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", "", "Control Room HTTP listen address (overrides config, empty config value disables)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable hot-reload of role and agent files")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance server",
	Long:  "Serves runtime evaluation over gRPC and the Control Room over HTTP.\nRole and agent files are reloaded when they change.",
	RunE:  runServe,
}

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	grpcAddr := cfg.Server.GRPCAddr
	if serveGRPCAddr != "" {
		grpcAddr = serveGRPCAddr
	}
	httpAddr := cfg.Server.HTTPAddr
	if serveHTTPAddr != "" {
		httpAddr = serveHTTPAddr
	}

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		return rt.srv.ServeOn(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		rt.srv.GracefulStop()
		return nil
	})

	if httpAddr != "" {
		hs := &http.Server{
			Addr:              httpAddr,
			Handler:           rt.srv.HTTPHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("control room listening", zap.String("addr", httpAddr))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	if !serveNoWatch {
		reloader, err := server.NewReloader([]string{cfg.RolesFile, cfg.AgentsFile}, rt.srv.Reload, logger)
		if err != nil {
			logger.Warn("hot-reload disabled", zap.Error(err))
		} else {
			logger.Info("watching files", zap.Strings("paths", reloader.Paths()))
			g.Go(func() error { return reloader.Run(ctx) })
		}
	}

	err = g.Wait()
	logger.Info("governance server stopped")
	return err
}
