// Package cli implements the unpack command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oci/unpack"
	"github.com/oci/unpack/cmd/unpack/cli/config"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cfgFile is the path to the config file (set via --config flag).
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "unpack",
	Short: "Pull OCI images onto the local filesystem",
	Long: `unpack downloads OCI container images from a registry and materializes
their layers onto a local directory as a plain rootfs tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().Bool("insecure", false, "Allow insecure registry connections")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Bypass the blob cache for this request")
	rootCmd.PersistentFlags().Bool("no-sandbox", false, "Disable the Landlock filesystem sandbox")

	//nolint:errcheck // flags are defined above, so Lookup will never return nil
	viper.BindPFlag("insecure", rootCmd.PersistentFlags().Lookup("insecure"))
	//nolint:errcheck
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	//nolint:errcheck
	viper.BindPFlag("no-cache", rootCmd.PersistentFlags().Lookup("no-cache"))
	//nolint:errcheck
	viper.BindPFlag("no-sandbox", rootCmd.PersistentFlags().Lookup("no-sandbox"))

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.dir", "") // Empty means use XDG default
	viper.SetDefault("cache.max_entries", 0)

	rootCmd.Version = version
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := config.Dir()
		if err == nil {
			viper.AddConfigPath(configDir)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables: UNPACK_CACHE_ENABLED, UNPACK_INSECURE, etc.
	viper.SetEnvPrefix("UNPACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config:", viper.ConfigFileUsed())
		}
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// newClient creates an unpack client with configured options.
func newClient() (*unpack.Client, error) {
	opts := []unpack.ClientOption{
		unpack.WithInsecure(viper.GetBool("insecure")),
	}

	if viper.GetBool("verbose") {
		opts = append(opts, unpack.WithLogger(
			slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
		))
	}

	noCache := viper.GetBool("no-cache")
	cacheEnabled := viper.GetBool("cache.enabled")

	if cacheEnabled && !noCache {
		cacheDir := viper.GetString("cache.dir")
		if cacheDir == "" {
			var err error
			cacheDir, err = config.CacheDir()
			if err != nil {
				return nil, fmt.Errorf("determine cache directory: %w", err)
			}
		}
		opts = append(opts, unpack.WithCacheDir(cacheDir))
		if maxEntries := viper.GetInt("cache.max_entries"); maxEntries > 0 {
			opts = append(opts, unpack.WithMaxCacheEntries(maxEntries))
		}
	}

	return unpack.NewClient(opts...)
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts unpack errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, unpack.ErrNotFound):
		return fmt.Sprintf("Error: not found: %v", err)
	case errors.Is(err, unpack.ErrUnauthorized):
		return "Error: authentication failed (check your credentials)"
	case errors.Is(err, unpack.ErrInvalidRef):
		return fmt.Sprintf("Error: invalid reference: %v", err)
	case errors.Is(err, unpack.ErrPathTraversal):
		return "Error: path traversal detected (security violation)"
	case errors.Is(err, unpack.ErrInvalidArchive):
		return "Error: invalid or corrupt archive"
	case errors.Is(err, unpack.ErrSandboxUnavailable):
		return "Error: filesystem sandbox unavailable (pass --no-sandbox to proceed without it)"
	case errors.Is(err, unpack.ErrNoMatchingPlatform):
		return fmt.Sprintf("Error: no matching platform: %v", err)
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
