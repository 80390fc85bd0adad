// CIR Monitor - real-time CIR telemetry monitor
// This program reads key/value telemetry lines from a serial-attached
// CIR ranging module and serves a live browser dashboard with export.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cir-monitor/internal/config"
	"cir-monitor/internal/dashboard"
	"cir-monitor/internal/monitor"
	"cir-monitor/internal/reader"
	"cir-monitor/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Command line flag variables
var (
	cfgFile        string // Configuration file path
	port           string // Serial port device path
	baudRate       int    // Serial baud rate
	capacity       int    // Rolling buffer capacity
	maxReconnect   int    // Reconnect attempts before giving up
	renderInterval string // Minimum time between dashboard redraws (e.g. "20ms")
	autoScale      bool   // Auto-scale chart Y axis
	listen         string // Dashboard HTTP listen address
	verbose        bool   // Enable verbose logging
	showVersion    bool   // Show version information and exit
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cir-monitor",
	Short: "Real-time CIR telemetry monitor with live dashboard",
	Long: `CIR Monitor reads key/value telemetry lines from a serial-attached CIR
ranging module, keeps a rolling window of parsed samples, and serves a live
browser dashboard with CSV/XLSX export.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("CIR Monitor"))
			return
		}
		if err := runMonitor(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// listPortsCmd enumerates serial ports visible to the host
var listPortsCmd = &cobra.Command{
	Use:   "list-ports",
	Short: "List available serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := reader.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		fmt.Println("Available serial ports:")
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

// init initializes the CLI flags and configuration
func init() {
	// Initialize configuration when cobra starts
	cobra.OnInitialize(initConfig)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./config.yaml", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Command-specific flags
	rootCmd.Flags().StringVarP(&port, "port", "p", "/dev/ttyUSB0", "serial port device path")
	rootCmd.Flags().IntVarP(&baudRate, "baud", "b", 115200, "serial baud rate")
	rootCmd.Flags().IntVar(&capacity, "capacity", 500, "rolling buffer capacity (samples)")
	rootCmd.Flags().IntVar(&maxReconnect, "max-reconnect", 3, "reconnect attempts before giving up")
	rootCmd.Flags().StringVar(&renderInterval, "render-interval", "20ms", "minimum time between dashboard redraws")
	rootCmd.Flags().BoolVar(&autoScale, "auto-scale", true, "auto-scale chart Y axis (true|false)")
	rootCmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8632", "dashboard HTTP listen address")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("serial.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("serial.baud_rate", rootCmd.Flags().Lookup("baud"))
	viper.BindPFlag("serial.max_reconnect", rootCmd.Flags().Lookup("max-reconnect"))
	viper.BindPFlag("monitor.buffer_capacity", rootCmd.Flags().Lookup("capacity"))
	viper.BindPFlag("monitor.render_interval", rootCmd.Flags().Lookup("render-interval"))
	viper.BindPFlag("monitor.auto_scale", rootCmd.Flags().Lookup("auto-scale"))
	viper.BindPFlag("dashboard.listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(listPortsCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config.yaml in current directory
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runMonitor is the main application logic
func runMonitor() error {
	// Load default configuration
	cfg := config.DefaultConfig()

	// Override with values from config file and command line flags
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Parse render interval string into time.Duration
	interval, err := time.ParseDuration(viper.GetString("monitor.render_interval"))
	if err != nil {
		return fmt.Errorf("invalid render interval format: %w", err)
	}
	cfg.Monitor.RenderInterval = interval

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Display startup information
	fmt.Printf("CIR Monitor starting...\n")
	fmt.Printf("Port: %s @ %d baud\n", cfg.Serial.Port, cfg.Serial.BaudRate)
	fmt.Printf("Buffer: %d samples\n", cfg.Monitor.BufferCapacity)
	fmt.Printf("Dashboard: http://%s/\n", cfg.Dashboard.Listen)

	mon := monitor.New(cfg)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	defer mon.Stop()

	srv := dashboard.New(mon)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run(cfg.Dashboard.Listen)
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Printf("\nReceived interrupt signal, shutting down...\n")
	case err := <-serverErr:
		if err != nil {
			srv.Stop()
			return err
		}
	}

	srv.Stop()
	fmt.Printf("Monitor stopped.\n")
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
