package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	sing "github.com/sagernet/sing-iostream"
	"github.com/sagernet/sing-iostream/common/iostream"
	"github.com/sagernet/sing-iostream/common/log"
	"github.com/sagernet/sing-iostream/conf"
	"github.com/sagernet/sing-iostream/protocol/echo"
	"github.com/sagernet/sing-iostream/transport/tcp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type flags struct {
	ConfigFile     string
	Listen         string
	Port           uint16
	Backlog        int
	ChunkSize      int
	MaxBuffer      int
	CloseTimeout   time.Duration
	MaxConnections int
	AcceptRate     float64
	AcceptBurst    int
	Metrics        string
	LogLevel       string
	Verbose        bool
}

func main() {
	err := newCommand(new(flags)).Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func newCommand(f *flags) *cobra.Command {
	command := &cobra.Command{
		Use:     "iostream-echo",
		Short:   "echo server on the buffered stream reactor",
		Version: sing.VersionStr,
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, f)
		},
	}

	defaults := conf.Default()
	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file (JSON, or YAML by extension).")
	command.Flags().StringVarP(&f.Listen, "listen", "b", defaults.Listen, "Set the listen address.")
	command.Flags().Uint16VarP(&f.Port, "port", "p", defaults.Port, "Set the listen port.")
	command.Flags().IntVar(&f.Backlog, "backlog", defaults.Backlog, "Set the listen backlog.")
	command.Flags().IntVar(&f.ChunkSize, "chunk-size", defaults.ChunkSize, "Set the size of a single read or write.")
	command.Flags().IntVar(&f.MaxBuffer, "max-buffer", defaults.MaxBufferSize, "Set the per direction buffer cap of a connection.")
	command.Flags().DurationVar(&f.CloseTimeout, "close-timeout", time.Duration(defaults.CloseTimeout), "Set how long a closing connection waits for the peer.")
	command.Flags().IntVar(&f.MaxConnections, "max-connections", 0, "Limit concurrent connections, 0 for no limit.")
	command.Flags().Float64Var(&f.AcceptRate, "accept-rate", 0, "Limit accepted connections per second, 0 for no limit.")
	command.Flags().IntVar(&f.AcceptBurst, "accept-burst", 0, "Set the burst allowed above the accept rate.")
	command.Flags().StringVar(&f.Metrics, "metrics", "", "Serve Prometheus metrics on this address.")
	command.Flags().StringVar(&f.LogLevel, "log-level", defaults.LogLevel, "Set the log level.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")
	return command
}

func run(cmd *cobra.Command, f *flags) {
	options, err := newOptions(cmd, f)
	if err != nil {
		logrus.Fatal(err)
	}
	if f.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else if err = log.SetLevel(options.LogLevel); err != nil {
		logrus.Fatal(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	server, err := newServer(options, registry)
	if err != nil {
		logrus.Fatal(err)
	}

	group, ctx := errgroup.WithContext(context.Background())
	var metricsServer *http.Server
	if options.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              options.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logrus.Info("metrics served at ", options.MetricsListen)
			err := metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		err := server.Start(ctx)
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}
		return err
	})
	err = group.Wait()
	if err != nil {
		logrus.Fatal(err)
	}
}

// newOptions loads the configuration file, then applies every flag that was
// set explicitly on the command line.
func newOptions(cmd *cobra.Command, f *flags) (conf.Options, error) {
	options := conf.Default()
	if f.ConfigFile != "" {
		var err error
		options, err = conf.Load(f.ConfigFile)
		if err != nil {
			return options, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("listen") {
		options.Listen = f.Listen
	}
	if changed("port") {
		options.Port = f.Port
	}
	if changed("backlog") {
		options.Backlog = f.Backlog
	}
	if changed("chunk-size") {
		options.ChunkSize = f.ChunkSize
	}
	if changed("max-buffer") {
		options.MaxBufferSize = f.MaxBuffer
	}
	if changed("close-timeout") {
		options.CloseTimeout = conf.Duration(f.CloseTimeout)
	}
	if changed("max-connections") {
		options.MaxConnections = f.MaxConnections
	}
	if changed("accept-rate") {
		options.AcceptRate = f.AcceptRate
	}
	if changed("accept-burst") {
		options.AcceptBurst = f.AcceptBurst
	}
	if changed("metrics") {
		options.MetricsListen = f.Metrics
	}
	if changed("log-level") {
		options.LogLevel = f.LogLevel
	}
	return options, options.Validate()
}

func newServer(options conf.Options, registerer prometheus.Registerer) (*tcp.Server, error) {
	bind, err := options.ListenAddr()
	if err != nil {
		return nil, err
	}
	return tcp.NewServer(
		tcp.WithListen(bind),
		tcp.WithBacklog(options.Backlog),
		tcp.WithMaxConnections(options.MaxConnections),
		tcp.WithAcceptRate(options.AcceptRate, options.AcceptBurst),
		tcp.WithHandler(echo.Serve),
		tcp.WithRegisterer(registerer),
		tcp.WithLogger(log.NewLogger("iostream-echo")),
		tcp.WithStreamOptions(
			iostream.WithChunkSize(options.ChunkSize),
			iostream.WithMaxBufferSize(options.MaxBufferSize),
			iostream.WithCloseTimeout(time.Duration(options.CloseTimeout)),
		),
	)
}
