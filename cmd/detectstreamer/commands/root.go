package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/DetectStreamer/internal/config"
	"github.com/bryanchriswhite/DetectStreamer/internal/logger"
)

// EnvPrefix namespaces environment overrides, e.g. DETECTSTREAMER_SERVER_PORT.
const EnvPrefix = "DETECTSTREAMER"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "detectstreamer",
		Short: "DetectStreamer - medical object detection over uploaded video",
		Long: `DetectStreamer runs a pretrained object detector over every frame of an
uploaded video and streams the annotated frames to the browser.

Features:
  • Upload an .mp4 and watch detections frame by frame
  • Adjustable confidence threshold and bounding-box toggle
  • Replay the last video without re-running detection
  • Worker-process or in-process ONNX detector backends
  • Headless detection from the command line
  • Persistent configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/detectstreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level ("+strings.Join(logger.Levels, ", ")+")")
	rootCmd.PersistentFlags().Bool("pretty-logs", false, "human-readable console logs instead of JSON")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty_logs", rootCmd.PersistentFlags().Lookup("pretty-logs"))
}

func initConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config manager and applies flag and environment
// overrides in memory.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			if _, ok := logger.ParseLevel(level); !ok {
				return nil, fmt.Errorf("invalid log level: %s (use: %s)", level, strings.Join(logger.Levels, ", "))
			}
			configMgr.SetLogLevel(level)
		}
	}

	logger.Init(configMgr.Get().LogLevel, viper.GetBool("pretty_logs"))
	return configMgr, nil
}
