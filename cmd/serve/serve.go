package serve

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/code-100-precent/LingCore/cmd/root"
	"github.com/code-100-precent/LingCore/httpapi"
	"github.com/code-100-precent/LingCore/metrics"
	"github.com/code-100-precent/LingCore/storage"
	"github.com/code-100-precent/LingCore/structure"
	"github.com/code-100-precent/LingCore/utils"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

var (
	configFile string
	envName    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the keyspace and its HTTP admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd)
		if err != nil {
			return err
		}
		cfg, err := utils.LoadServerConfig(v, configFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "Path of the configuration file in yaml, json or toml format (optional)")
	f.StringVar(&envName, "env", os.Getenv("ENV"), "Load variables from .env.<env> before reading the configuration")
	f.String("addr", ":6380", "Listen address of the HTTP admin API")
	f.Int("db-num", 16, "Number of databases")
	f.Int("hz", storage.CONFIG_DEFAULT_HZ, "Background cron frequency")
	f.String("log-level", "info", "Log level (debug/info/warn/error)")
	f.Int64("max-memory", 0, "Soft memory limit in bytes, 0 disables it")

	root.AddCommand(serveCmd)
}

// newViper 依次叠加 .env、LINGCORE_* 环境变量和命令行参数
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	applied, err := utils.LoadEnv(".", envName)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		logrus.WithField("file", utils.EnvFileName(envName)).Debugf("loaded %d variables", len(applied))
	}

	v := utils.NewViper()
	for key, flag := range map[string]string{
		"addr":       "addr",
		"db_num":     "db-num",
		"hz":         "hz",
		"log_level":  "log-level",
		"max_memory": "max-memory",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	return v, nil
}

func run(ctx context.Context, cfg *utils.ServerConfig) error {
	logger := cfg.NewLogger()
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	seed, err := cfg.ParseHashSeed()
	if err != nil {
		return err
	}
	structure.SetHashFunctionSeed(seed)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	srv := storage.NewRedisServer(cfg.DbNum,
		storage.WithEncodingConfig(cfg.EncodingConfig()),
		storage.WithHz(cfg.Hz),
		storage.WithActiveRehashing(cfg.ActiveRehashing),
		storage.WithMaxMemory(cfg.MaxMemory),
		storage.WithLogger(logger),
		storage.WithMetrics(m),
	)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.Cron(ctx)

	api := httpapi.NewAPI(srv, logger, m, reg)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"addr":       cfg.Addr,
		"db_num":     cfg.DbNum,
		"hz":         srv.Hz(),
		"max_memory": cfg.MaxMemory,
	}).Info("lingcore started")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	logger.Info("server stopped")
	return nil
}
