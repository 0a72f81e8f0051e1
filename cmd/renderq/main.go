package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/CZERTAINLY/renderq/internal/log"
	"github.com/CZERTAINLY/renderq/internal/model"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "renderq.yaml"
	envConfig      = "RENDERQCONFIG"
	envBlender     = "RENDERQ_BLENDER"
)

var (
	userConfigPath string // /default/config/path/renderq on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagBlender        string // value of run --blender flag
	flagProgress       bool   // value of run --progress flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "renderq")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configFileName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVar(&flagBlender, "blender", "", "renderer executable, overrides the config and "+envBlender)
	runCmd.Flags().BoolVar(&flagProgress, "progress", false, "print every progress update")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initRenderq

	configCmd.AddCommand(configBlenderCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("renderq failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "renderq",
	Short:        "Renders a queue of blender documents one after another",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [file|dir|glob]...",
	Short: "run renders all given documents in order",
	Args:  cobra.ArbitraryArgs,
	RunE:  doRun,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config manages the stored settings",
}

var configBlenderCmd = &cobra.Command{
	Use:   "blender PATH",
	Short: "blender stores the path of the renderer executable",
	Args:  cobra.ExactArgs(1),
	RunE:  doConfigBlender,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "show prints the active configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", configPath)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(config)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a renderq",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("renderq: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("renderq: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doConfigBlender(cmd *cobra.Command, args []string) error {
	config.Blender = args[0]
	if err := storeConfig(configPath, config); err != nil {
		return err
	}
	slog.InfoContext(cmd.Context(), "renderer stored", "blender", config.Blender, "config", configPath)
	return nil
}

func initRenderq(cmd *cobra.Command, _ []string) error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if env, ok := os.LookupEnv(envConfig); ok {
		configPath = env
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, configFileName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, configFileName)
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		verbose := true
		config.Verbose = &verbose
	}

	slog.SetDefault(log.New(os.Stderr, model.Get(config.Verbose)))

	slog.Debug("renderq", "configPath", configPath)
	slog.Debug("renderq", "config", config)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
