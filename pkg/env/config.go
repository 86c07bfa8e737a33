// Package env builds the link from configuration.
package env

import (
	"flag"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v2"

	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/transport/mqtt"
	"github.com/robotalks/flightlink/pkg/transport/stream"
	"github.com/robotalks/flightlink/pkg/transport/websocket"
)

// Config provides common options to setup the link.
// Precedence: defaults < config file < environment < command line flags.
type Config struct {
	// Transport specifies the link to the flight controller, e.g.
	//   serial:///dev/ttyUSB0?baud=921600
	//   tcp://localhost:5760
	//   ws://bridge:8080/link
	//   mqtt://broker:1883/fleet/ (frames relayed by a bridge)
	Transport string `yaml:"transport"`
	Baud      int    `yaml:"baud"`

	// MQTTBrokerURL is where pushes are published, empty disables.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `yaml:"mqtt"`

	// LinkID identifies the vehicle in MQTT topics.
	LinkID string `yaml:"linkId"`

	InterByteTimeout time.Duration `yaml:"interByteTimeout"`
	SyncGrace        time.Duration `yaml:"syncGrace"`
	StatsInterval    time.Duration `yaml:"statsInterval"`
}

// Environment variables.
const (
	EnvTransport = "FLIGHTLINK_TRANSPORT"
	EnvMQTTURL   = "FLIGHTLINK_MQTT_URL"
	EnvLinkID    = "FLIGHTLINK_ID"
	EnvConfig    = "FLIGHTLINK_CONFIG"
)

func builtinConfig() Config {
	return Config{
		Transport:        "serial:///dev/ttyUSB0",
		Baud:             stream.DefaultBaud,
		InterByteTimeout: stream.DefaultTimeout,
		SyncGrace:        link.DefaultSyncGrace,
		StatsInterval:    30 * time.Second,
	}
}

var (
	configFile = os.Getenv(EnvConfig)
	flagConfig = builtinConfig()
)

var flagSetters = map[string]func(dst, src *Config){
	"transport":    func(dst, src *Config) { dst.Transport = src.Transport },
	"baud":         func(dst, src *Config) { dst.Baud = src.Baud },
	"mqtt":         func(dst, src *Config) { dst.MQTTBrokerURL = src.MQTTBrokerURL },
	"id":           func(dst, src *Config) { dst.LinkID = src.LinkID },
	"byte-timeout": func(dst, src *Config) { dst.InterByteTimeout = src.InterByteTimeout },
	"sync-grace":   func(dst, src *Config) { dst.SyncGrace = src.SyncGrace },
	"stats":        func(dst, src *Config) { dst.StatsInterval = src.StatsInterval },
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "YAML config file")
	flag.StringVar(&flagConfig.Transport, "transport", flagConfig.Transport, "Transport URL")
	flag.IntVar(&flagConfig.Baud, "baud", flagConfig.Baud, "Serial baud rate")
	flag.StringVar(&flagConfig.MQTTBrokerURL, "mqtt", flagConfig.MQTTBrokerURL, "MQTT broker URL for pushes")
	flag.StringVar(&flagConfig.LinkID, "id", flagConfig.LinkID, "Link ID, default to machine ID")
	flag.DurationVar(&flagConfig.InterByteTimeout, "byte-timeout", flagConfig.InterByteTimeout, "Inter-byte timeout")
	flag.DurationVar(&flagConfig.SyncGrace, "sync-grace", flagConfig.SyncGrace, "Extra wait of synchronous calls")
	flag.DurationVar(&flagConfig.StatsInterval, "stats", flagConfig.StatsInterval, "Interval to log link stats, 0 disables")
}

// NewConfig creates a Config with defaults and environment overrides.
func NewConfig() *Config {
	conf := builtinConfig()
	conf.ApplyEnv()
	return &conf
}

// Load creates the Config from defaults, the config file, environment and
// command line flags.
func Load() (*Config, error) {
	conf := builtinConfig()
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			return nil, fmt.Errorf("load config %s: %v", configFile, err)
		}
	}
	conf.ApplyEnv()
	flag.Visit(func(f *flag.Flag) {
		if set, ok := flagSetters[f.Name]; ok {
			set(&conf, &flagConfig)
		}
	})
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// MustLoad loads the Config and exits on error.
func MustLoad() *Config {
	conf, err := Load()
	if err != nil {
		glog.Exit(err)
	}
	return conf
}

// LoadFile merges a YAML file into the Config.
func (c *Config) LoadFile(fn string) error {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if val := os.Getenv(EnvTransport); val != "" {
		c.Transport = val
	}
	if val := os.Getenv(EnvMQTTURL); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := os.Getenv(EnvLinkID); val != "" {
		c.LinkID = val
	}
}

// Validate checks the Config and fills the link ID.
func (c *Config) Validate() error {
	if c.Transport == "" {
		return fmt.Errorf("transport is required")
	}
	if _, err := url.Parse(c.Transport); err != nil {
		return fmt.Errorf("invalid transport %q: %v", c.Transport, err)
	}
	if c.LinkID == "" {
		c.LinkID = MachineID()
	}
	return nil
}

// NewTransport opens the transport selected by the URL scheme.
func (c *Config) NewTransport() (link.FrameReadWriter, error) {
	u, err := url.Parse(c.Transport)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "serial":
		name := u.Path
		if name == "" {
			name = u.Opaque
		}
		baud := c.Baud
		if val := u.Query().Get("baud"); val != "" {
			if baud, err = strconv.Atoi(val); err != nil {
				return nil, fmt.Errorf("invalid baud %q", val)
			}
		}
		rw, err := stream.OpenSerial(name, baud, c.InterByteTimeout)
		if err != nil {
			return nil, err
		}
		return rw, nil
	case "tcp":
		rw, err := stream.DialTCP(u.Host, c.InterByteTimeout)
		if err != nil {
			return nil, err
		}
		return rw, nil
	case "ws", "wss":
		rw, err := websocket.Dial(c.Transport, "")
		if err != nil {
			return nil, err
		}
		return rw, nil
	case "mqtt", "mqtts":
		q, err := c.newQueue(c.Transport, "flightlink-host:")
		if err != nil {
			return nil, err
		}
		if err = q.Connect(); err != nil {
			return nil, err
		}
		rw := mqtt.NewReadWriter(q).ForHost(c.LinkID)
		rw.CloseQueue = true
		if err = rw.Open(); err != nil {
			rw.Close()
			return nil, err
		}
		return rw, nil
	}
	return nil, fmt.Errorf("unsupported transport %q", c.Transport)
}

// NewDispatcher creates a Dispatcher on the transport.
func (c *Config) NewDispatcher(rw link.FrameReadWriter) *link.Dispatcher {
	d := link.NewDispatcher(rw, nil)
	if c.SyncGrace > 0 {
		d.SyncGrace = c.SyncGrace
	}
	return d
}

// NewQueue creates the MQTT queue for pushes, nil if MQTT is disabled.
func (c *Config) NewQueue() (*mqtt.Queue, error) {
	if c.MQTTBrokerURL == "" {
		return nil, nil
	}
	return c.newQueue(c.MQTTBrokerURL, "flightlink:")
}

func (c *Config) newQueue(brokerURL, clientIDPrefix string) (*mqtt.Queue, error) {
	broker, err := mqtt.ParseBrokerURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if broker.Options.ClientID == "" {
		broker.Options.SetClientID(clientIDPrefix + c.LinkID)
	}
	return broker.NewQueue(), nil
}
