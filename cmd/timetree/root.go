package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timetree/internal/config"
	"timetree/internal/db"
	"timetree/internal/logging"
	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

var rootCmd = &cobra.Command{
	Use:   "timetree",
	Short: "Calendar tree index over a graph store",
	Long: `timetree attaches timestamped entities to a Year/Month/Day/Hour/Minute/Second
tree kept in a graph store, and answers time-range queries by walking it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default .timetree.yaml)")
	pf.String("driver", "", "graph store: memory, sqlite or postgres")
	pf.String("db", "", "sqlite database path")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.Int64("root", 0, "custom root node id (default: the default root)")
	pf.String("resolution", "", "resolution: Year, Month, Day, Hour, Minute or Second")
	pf.String("timezone", "", "timezone, e.g. UTC, GMT+11 or Europe/London")
	pf.StringP("output", "o", "json", "output format: json or yaml")

	_ = viper.BindPFlag("database.driver", pf.Lookup("driver"))
	_ = viper.BindPFlag("database.path", pf.Lookup("db"))
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".timetree")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// openTree opens the configured store and builds a TimeTree over it. The
// caller closes the returned store.
func openTree(cmd *cobra.Command, opts ...timetree.Option) (*timetree.TimeTree, graph.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	treeCfg, err := cfg.TreeConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := db.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	tree := timetree.New(store, append([]timetree.Option{timetree.WithConfig(treeCfg)}, opts...)...)
	return tree, store, nil
}

// rootFlag reads --root.
func rootFlag(cmd *cobra.Command) timetree.Root {
	id, _ := cmd.Flags().GetInt64("root")
	return timetree.RootFor(graph.NodeID(id))
}

// instantArg parses a millisecond argument with --timezone and --resolution.
func instantArg(cmd *cobra.Command, arg string) (timetree.Instant, error) {
	ms, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return timetree.Instant{}, fmt.Errorf("%w: %q is not a millisecond timestamp", timetree.ErrValidation, arg)
	}
	tz, _ := cmd.Flags().GetString("timezone")
	res, _ := cmd.Flags().GetString("resolution")
	return timetree.NewInstant(ms, tz, res)
}
