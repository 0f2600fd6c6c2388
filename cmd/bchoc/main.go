package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile    string
	ledgerPath string
	verbose    bool

	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bchoc",
	Short: "Evidence chain-of-custody ledger",
	Long: `bchoc records custody transitions of evidence items in a hash-linked,
append-only ledger file and audits that file for tampering and policy
violations.

The ledger path is taken from --file, then the BCHOC_FILE_PATH environment
variable, then ledger.path in ~/.bchoc/config.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".bchoc"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.BindEnv("ledger.path", "BCHOC_FILE_PATH")
		viper.SetDefault("ledger.path", "custody.ledger")
		viper.SetDefault("ledger.lock_timeout", "5s")

		if err := viper.ReadInConfig(); err != nil {
			var cfgNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &cfgNotFound) && cfgFile != "" {
				return fmt.Errorf("read config: %w", err)
			}
		}

		if ledgerPath == "" {
			ledgerPath = viper.GetString("ledger.path")
		}

		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			logger = l
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.bchoc/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&ledgerPath, "file", "f", "", "ledger file (default $BCHOC_FILE_PATH or custody.ledger)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log ledger operations to stderr")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func openLedger() *ledger.Ledger {
	return ledger.New(ledgerPath,
		ledger.WithLogger(logger),
		ledger.WithLockTimeout(viper.GetDuration("ledger.lock_timeout")),
	)
}

// openInitialized opens the ledger, creating the genesis record first if
// the file does not exist yet.
func openInitialized(ctx context.Context) (*ledger.Ledger, error) {
	l := openLedger()
	if _, err := l.Initialize(ctx); err != nil && !errors.Is(err, ledger.ErrAlreadyInitialized) {
		return nil, err
	}
	return l, nil
}

// openIndex opens the ledger and loads its custody index.
func openIndex(ctx context.Context, l *ledger.Ledger) (*custody.Index, error) {
	idx := custody.NewIndex(l, logger)
	if err := idx.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return idx, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// ── init ─────────────────────────────────────────────────────────────────────

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the ledger with its genesis record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := openLedger().Initialize(cmd.Context())
		switch {
		case err == nil:
			fmt.Println("Blockchain file not found. Created INITIAL block.")
		case errors.Is(err, ledger.ErrAlreadyInitialized):
			fmt.Println("Blockchain file found with INITIAL block.")
		default:
			return err
		}
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bchoc version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bchoc %s (evidence chain of custody)\n", version)
	},
}
