package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/landcovernet/internal/classifier"
	"github.com/example/landcovernet/internal/client"
	"github.com/example/landcovernet/internal/config"
	"github.com/example/landcovernet/internal/handlers"
	"github.com/example/landcovernet/internal/imagedecode"
	"github.com/example/landcovernet/internal/labels"
	"github.com/example/landcovernet/internal/logging"
	"github.com/example/landcovernet/internal/metrics"
	"github.com/example/landcovernet/internal/model"
	"github.com/example/landcovernet/internal/usecase"
)

func main() {
	if err := rootCommand(config.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand(v *viper.Viper) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "landcover",
		Short:        "LandCoverNet EuroSAT land cover classifier",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	mustBind(v, "log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	serveCmd := serveCommand(v, &configFile)
	rootCmd.AddCommand(serveCmd, predictCommand())

	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	return rootCmd
}

func serveCommand(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(settings.Log.Level, settings.Log.Development)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if err := runServer(settings, logger); err != nil {
				logger.Error("server failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8000", "Listen address")
	flags.String("model", "landcovernet_resnet18.onnx", "Path to the ONNX model weights")
	flags.String("metadata", "model_metadata.json", "Path to the model metadata sidecar")
	flags.String("label-map", "label_map.json", "Path to the label map")
	flags.String("onnxruntime-lib", "", "Path to the ONNX Runtime shared library")
	mustBind(v, "server.addr", flags.Lookup("addr"))
	mustBind(v, "model.path", flags.Lookup("model"))
	mustBind(v, "model.metadata_path", flags.Lookup("metadata"))
	mustBind(v, "model.label_map_path", flags.Lookup("label-map"))
	mustBind(v, "model.shared_library_path", flags.Lookup("onnxruntime-lib"))
	return cmd
}

func predictCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "predict <file>...",
		Short: "Upload images to a running server and print the predictions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(server, zap.NewNop())
			var failed int
			for _, path := range args {
				pred, err := c.PredictFile(cmd.Context(), path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "❌ %s: %v\n", path, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✅", client.Format(pred))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d predictions failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8000", "Base URL of the prediction server")
	return cmd
}

func runServer(settings *config.Settings, logger *zap.Logger) error {
	table, err := labels.Load(settings.Model.LabelMapPath, logger.Named("labels"))
	if err != nil {
		return err
	}

	meta, err := model.LoadMetadata(settings.Model.MetadataPath, logger.Named("model"))
	if err != nil {
		return err
	}
	meta = meta.WithDefaults(table.Len())
	if err := meta.Validate(table.Len()); err != nil {
		return fmt.Errorf("model metadata does not match label table: %w", err)
	}
	pipeline, err := meta.Pipeline()
	if err != nil {
		return err
	}

	session, err := model.NewSession(model.Options{
		ModelPath:         settings.Model.Path,
		SharedLibraryPath: settings.Model.SharedLibraryPath,
		IntraOpThreads:    settings.Model.IntraOpThreads,
	}, meta)
	if err != nil {
		var missing *model.MissingArtifactError
		if errors.As(err, &missing) {
			logger.Error("model weights not found, place them next to the binary or set model.path",
				zap.String("path", missing.Path))
		}
		return err
	}
	defer session.Close()
	logger.Info("model loaded",
		zap.String("path", settings.Model.Path),
		zap.String("architecture", meta.Architecture),
		zap.Int("classes", table.Len()),
		zap.String("labels", table.Source()),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}
	m.ModelLoaded.Set(1)

	svc := classifier.NewService(session, table, pipeline.TensorLen())
	uc := usecase.NewPredictionUseCase(imagedecode.New(settings.GeoTIFF.Bands()), pipeline, svc, m, logger)

	if !settings.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = settings.Server.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, handlers.Options{
		MaxUploadBytes: settings.Server.MaxUploadBytes,
		ModelPath:      settings.Model.Path,
		Classes:        table.Len(),
		CORS:           settings.Server.CORS,
		Metrics:        m,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         settings.Server.Addr,
		Handler:      r,
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}

	logger.Info("LandCoverNet API listening", zap.String("addr", settings.Server.Addr))
	err = serveHTTPServer(server, settings.Server.ShutdownTimeout, logger)
	m.ModelLoaded.Set(0)
	return err
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
