package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pior/bmemcache"
)

var (
	client *bmemcache.Client
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:               "bmc",
		Short:             "memcached binary protocol client",
		SilenceUsage:      true,
		PersistentPreRunE: setupClient,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if client != nil {
				client.Close()
			}
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("servers", "localhost:11211", "comma-separated list of servers (host:port or unix socket path)")
	flags.Duration("timeout", bmemcache.DefaultTimeout, "request timeout")
	flags.Int32("pool-size", 4, "maximum connections per server")
	flags.Int("retries", bmemcache.DefaultMaxRetries, "retries on a new connection after an I/O error")
	flags.String("selector", "jump", "server selection: jump, modulo or consistent")
	flags.String("pool", "channel", "connection pool implementation: channel or puddle")
	flags.Bool("circuit-breaker", false, "enable a circuit breaker per server")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(getCmd, setCmd, addCmd, deleteCmd, incrCmd, decrCmd, touchCmd)
	rootCmd.AddCommand(flushCmd, versionCmd, pingCmd, benchCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")

	viper.SetEnvPrefix("bmc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupClient(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logger = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).Level(level).With().Timestamp().Logger()

	config, err := clientConfig()
	if err != nil {
		return err
	}

	servers := bmemcache.NewStaticServers(strings.Split(viper.GetString("servers"), ",")...)
	client, err = bmemcache.NewClient(servers, config)
	return err
}

func clientConfig() (bmemcache.Config, error) {
	config := bmemcache.Config{
		MaxSize:             viper.GetInt32("pool-size"),
		Timeout:             viper.GetDuration("timeout"),
		MaxRetries:          viper.GetInt("retries"),
		HealthCheckInterval: 30 * time.Second,
		MaxConnIdleTime:     5 * time.Minute,
		Logger:              logger,
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = -1
	}

	switch selector := viper.GetString("selector"); selector {
	case "jump":
		config.SelectServer = bmemcache.DefaultServerSelector
	case "modulo":
		config.SelectServer = bmemcache.ModuloServerSelector
	case "consistent":
		config.SelectServer = bmemcache.NewConsistentServerSelector()
	default:
		return config, fmt.Errorf("invalid selector %q", selector)
	}

	switch pool := viper.GetString("pool"); pool {
	case "channel":
		config.Pool = bmemcache.NewChannelPool
	case "puddle":
		config.Pool = bmemcache.NewPuddlePool
	default:
		return config, fmt.Errorf("invalid pool %q", pool)
	}

	if viper.GetBool("circuit-breaker") {
		config.NewCircuitBreaker = bmemcache.NewCircuitBreakerConfig(1, 10*time.Second, 5*time.Second)
	}

	return config, nil
}
