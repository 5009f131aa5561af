// lorarootd is the LoRa gateway root node daemon: it drives the PHY/MAC/IP
// stack and optionally exposes the ZMQ and WebSocket bridges.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loramac/lora-root/internal/bridge"
	"github.com/loramac/lora-root/internal/ip"
	"github.com/loramac/lora-root/internal/mac"
	"github.com/loramac/lora-root/internal/phy"
	"github.com/loramac/lora-root/internal/telemetry"
)

// Config represents the configuration file structure, per §6.
type Config struct {
	Serial struct {
		Port     string `yaml:"port"`
		BaudRate uint   `yaml:"baudrate"`
	} `yaml:"serial"`

	Radio struct {
		Frequency       uint32 `yaml:"frequency"`
		Bandwidth       int    `yaml:"bandwidth"`
		CodingRate      string `yaml:"cr"`
		Power           int    `yaml:"pwr"`
		SpreadingFactor string `yaml:"sf"`
	} `yaml:"radio"`

	Buffers struct {
		TxBufSize int `yaml:"tx_buf_size"`
		RxBufSize int `yaml:"rx_buf_size"`
	} `yaml:"buffers"`

	Telemetry struct {
		Enabled   bool   `yaml:"enabled"`
		Path      string `yaml:"path"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"telemetry"`

	Bridge struct {
		ZMQEnabled bool   `yaml:"zmq_enabled"`
		ZMQPubAddr string `yaml:"zmq_pub_addr"`
		ZMQRepAddr string `yaml:"zmq_rep_addr"`
		WSEnabled  bool   `yaml:"ws_enabled"`
		WSAddr     string `yaml:"ws_addr"`
	} `yaml:"bridge"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

var (
	configFile  string
	telemetryDB string
	zmqPubAddr  string
	zmqRepAddr  string
	wsAddr      string

	rootCmd = &cobra.Command{
		Use:   "lorarootd",
		Short: "LoRa gateway root node daemon",
		Long:  "Drives the PHY/MAC/IP stack for a LoRa star network's root node.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE:  runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lorarootd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/lorarootd/config.yaml", "configuration file path")
	runCmd.Flags().StringVar(&telemetryDB, "telemetry-db", "", "override telemetry.path")
	runCmd.Flags().StringVar(&zmqPubAddr, "zmq-pub-addr", "", "override bridge.zmq_pub_addr")
	runCmd.Flags().StringVar(&zmqRepAddr, "zmq-rep-addr", "", "override bridge.zmq_rep_addr")
	runCmd.Flags().StringVar(&wsAddr, "ws-addr", "", "override bridge.ws_addr")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if telemetryDB != "" {
		cfg.Telemetry.Path = telemetryDB
	}
	if zmqPubAddr != "" {
		cfg.Bridge.ZMQPubAddr = zmqPubAddr
	}
	if zmqRepAddr != "" {
		cfg.Bridge.ZMQRepAddr = zmqRepAddr
	}
	if wsAddr != "" {
		cfg.Bridge.WSAddr = wsAddr
	}

	phyCfg := phy.DefaultConfig()
	if cfg.Serial.Port != "" {
		phyCfg.Port = cfg.Serial.Port
	}
	if cfg.Serial.BaudRate != 0 {
		phyCfg.BaudRate = cfg.Serial.BaudRate
	}
	if cfg.Radio.Frequency != 0 {
		phyCfg.Frequency = cfg.Radio.Frequency
	}
	if cfg.Radio.Bandwidth != 0 {
		phyCfg.Bandwidth = cfg.Radio.Bandwidth
	}
	if cfg.Radio.CodingRate != "" {
		phyCfg.CodingRate = cfg.Radio.CodingRate
	}
	if cfg.Radio.Power != 0 {
		phyCfg.Power = cfg.Radio.Power
	}
	if cfg.Radio.SpreadingFactor != "" {
		phyCfg.SpreadingFactor = cfg.Radio.SpreadingFactor
	}
	if cfg.Buffers.TxBufSize > 0 {
		phyCfg.TxBufSize = cfg.Buffers.TxBufSize
	}
	if cfg.Buffers.RxBufSize > 0 {
		phyCfg.RxBufSize = cfg.Buffers.RxBufSize
	}

	driver := phy.New(phyCfg)
	macLayer := mac.New(driver)

	var telemetryStore *telemetry.Store
	if cfg.Telemetry.Enabled {
		telemetryStore, err = telemetry.Open(cfg.Telemetry.Path)
		if err != nil {
			return fmt.Errorf("open telemetry store: %w", err)
		}
		depth := cfg.Telemetry.QueueSize
		if depth == 0 {
			depth = 100
		}
		macLayer.SetEventSink(telemetry.NewAsyncSink(telemetryStore, depth))
	}

	stack := ip.NewStack(macLayer, mac.RootAddr)

	var zb *bridge.ZMQBridge
	var wb *bridge.WSBridge
	if cfg.Bridge.ZMQEnabled {
		zb = bridge.NewZMQBridge(stack)
	}
	if cfg.Bridge.WSEnabled {
		wb = bridge.NewWSBridge(stack, bridge.DefaultWSConfig())
	}

	stack.RegisterListener(func(packet []byte) {
		if zb != nil {
			zb.Publish(packet)
		}
		if wb != nil {
			wb.Publish(packet)
		}
		if telemetryStore != nil {
			if src, err := stack.NodeLoRaAddr(packet[8:24]); err == nil {
				telemetryStore.RecordDelivery(src)
			}
		}
	})

	if err := macLayer.Init(); err != nil {
		return fmt.Errorf("init mac layer: %w", err)
	}

	if zb != nil {
		if err := zb.Start(cfg.Bridge.ZMQPubAddr, cfg.Bridge.ZMQRepAddr); err != nil {
			return fmt.Errorf("start zmq bridge: %w", err)
		}
		defer zb.Stop()
	}
	if wb != nil {
		go func() {
			log.Printf("lorarootd: ws bridge listening on %s", cfg.Bridge.WSAddr)
			if err := http.ListenAndServe(cfg.Bridge.WSAddr, wb); err != nil {
				log.Printf("lorarootd: ws bridge stopped: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("lorarootd: running on %s", phyCfg.Port)
	sig := <-sigChan
	log.Printf("lorarootd: received signal %v, shutting down", sig)

	if telemetryStore != nil {
		telemetryStore.Close()
	}
	return nil
}
