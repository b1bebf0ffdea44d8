package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kadirbelkuyu/bdns/internal/domain/altroot"
	"github.com/kadirbelkuyu/bdns/internal/domain/resolution"
	"github.com/kadirbelkuyu/bdns/internal/infrastructure/logging"
	"github.com/kadirbelkuyu/bdns/internal/proxy"
	"github.com/kadirbelkuyu/bdns/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries the settings of one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "bdns",
		Short: "bdns - resolver and PAC server for alternative-root domains",
		Long: `bdns resolves domains under alternative roots (.bit, .lib, .coin and
OpenNIC TLDs) through an HTTP resolution API, caches the answers and serves a
PAC script that routes resolved domains directly to their addresses.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
		RunE:              a.runServe,
	}

	defaults := util.GetConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (yaml, toml or json)")
	flags.StringSlice("endpoints", defaults.Endpoints, "Resolution API base URLs")
	flags.Duration("timeout", defaults.Timeout, "Initial resolver timeout")
	flags.Duration("max-timeout", defaults.MaxTimeout, "Ceiling for the adaptive resolver timeout")
	flags.Duration("cache-ttl", defaults.CacheTTL, "Drop entries not visited for this long")
	flags.Int("max-entries", defaults.MaxEntries, "Maximum number of cached domains")
	flags.Duration("prune-interval", defaults.PruneInterval, "How often expired entries are pruned")
	flags.Int("rate-limit", defaults.RateLimit, "Maximum API requests per second (0 = unlimited)")
	flags.Bool("random-start", defaults.RandomStart, "Start with a random API endpoint")
	flags.Bool("touch-on-hit", defaults.TouchOnHit, "Refresh an entry's visited time on cache hits")
	flags.StringSlice("tlds", altroot.DefaultTLDs, "Top-level domains handled by the resolver")
	flags.String("proxy-addr", "127.0.0.1", "Proxy listen address")
	flags.Int("proxy-port", 8053, "Proxy listen port")
	flags.Bool("system-proxy", false, "Point the system auto-proxy setting at the PAC URL")
	flags.Bool("debug", false, "Enable debug mode (includes detailed logging)")
	flags.String("log-file", logging.DefaultLogFile, "Log file path")

	a.v.BindPFlags(flags)
	a.v.SetEnvPrefix("BDNS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd.AddCommand(a.newResolveCmd(), a.newPACCmd())
	return rootCmd
}

func Execute() error {
	return newRootCmd().Execute()
}

func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	if a.cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", a.cfgFile, err)
	}
	return nil
}

func (a *app) serviceConfig() resolution.Config {
	return resolution.Config{
		Endpoints:     a.v.GetStringSlice("endpoints"),
		Timeout:       a.v.GetDuration("timeout"),
		MaxTimeout:    a.v.GetDuration("max-timeout"),
		CacheTTL:      a.v.GetDuration("cache-ttl"),
		MaxEntries:    a.v.GetInt("max-entries"),
		PruneInterval: a.v.GetDuration("prune-interval"),
		RateLimit:     a.v.GetInt("rate-limit"),
		RandomStart:   a.v.GetBool("random-start"),
		TouchOnHit:    a.v.GetBool("touch-on-hit"),
	}
}

func (a *app) newLogger() (*zap.Logger, error) {
	return logging.InitLogger(a.v.GetBool("debug"), a.v.GetString("log-file"))
}

func (a *app) newService() (*resolution.Service, *zap.Logger, error) {
	logger, err := a.newLogger()
	if err != nil {
		return nil, nil, err
	}
	service, err := resolution.NewService(a.serviceConfig(), logger.Named("resolution"))
	if err != nil {
		return nil, nil, err
	}
	return service, logger, nil
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	service, logger, err := a.newService()
	if err != nil {
		return err
	}
	defer logger.Sync()

	service.OnScriptReady(func(script string) {
		logger.Debug("PAC script updated", zap.Int("length", len(script)))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down...", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	tlds := altroot.NewTLDSet(a.v.GetStringSlice("tlds"))
	server := proxy.NewServer(a.v.GetString("proxy-addr"), a.v.GetInt("proxy-port"), service, tlds, logger.Named("proxy"))

	if a.v.GetBool("system-proxy") {
		if err := proxy.ConfigureSystemProxy(true, server.PACURL()); err != nil {
			logger.Error("Failed to configure system proxy", zap.Error(err))
			return err
		}
		defer func() {
			if err := proxy.ConfigureSystemProxy(false, server.PACURL()); err != nil {
				logger.Error("Failed to cleanup proxy settings", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := service.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Resolution service encountered an error", zap.Error(err))
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "PAC script available at %s\n", server.PACURL())
	return server.Start(ctx)
}
