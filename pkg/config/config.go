// Package config loads the YAML configuration of the offload engine.
package config

import (
	"math/bits"
	"net/netip"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"toe-nts/pkg/ackdelay"
	"toe-nts/pkg/logging"
	"toe-nts/pkg/rxmem"
	"toe-nts/pkg/toe"
)

// TOEConfig holds the engine parameters.
type TOEConfig struct {
	MaxSessions  int     `yaml:"max_sessions"`
	ClockMHz     float64 `yaml:"clock_mhz"`
	AckDelay     string  `yaml:"ack_delay"`
	RxWindowBits uint    `yaml:"rx_window_bits"`
	RxMemoryBase uint32  `yaml:"rx_memory_base"`
	LocalIP      string  `yaml:"local_ip"`
	FifoDepth    int     `yaml:"fifo_depth"`
	TickPeriod   string  `yaml:"tick_period"`
}

type NALConfig struct {
	MaxSessions int `yaml:"max_sessions"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration.
type Config struct {
	TOE     TOEConfig      `yaml:"toe"`
	NAL     NALConfig      `yaml:"nal"`
	Log     logging.Config `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

func Default() *Config {
	return &Config{
		TOE: TOEConfig{
			MaxSessions:  32,
			ClockMHz:     156.25,
			AckDelay:     "64us",
			RxWindowBits: 16,
			RxMemoryBase: 0x40000000,
			LocalIP:      "10.0.0.1",
			FifoDepth:    16,
			TickPeriod:   "0s",
		},
		NAL: NALConfig{MaxSessions: 32},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	t := c.TOE
	if t.MaxSessions < 1 || t.MaxSessions > 1<<16 {
		return errors.Errorf("toe.max_sessions %d out of range", t.MaxSessions)
	}
	if c.NAL.MaxSessions < 1 {
		return errors.Errorf("nal.max_sessions %d out of range", c.NAL.MaxSessions)
	}
	if t.RxWindowBits < 4 || t.RxWindowBits > 24 {
		return errors.Errorf("toe.rx_window_bits %d out of range", t.RxWindowBits)
	}
	span := uint64(t.MaxSessions) << t.RxWindowBits
	if span > 1<<32 || uint64(t.RxMemoryBase)+span > 1<<32 {
		return errors.Errorf("rx buffer of %d bytes does not fit above %#x", span, t.RxMemoryBase)
	}
	// Addresses are built by OR-ing the session and offset into the base.
	if align := uint64(1) << bits.Len64(span-1); uint64(t.RxMemoryBase)&(align-1) != 0 {
		return errors.Errorf("toe.rx_memory_base %#x is not aligned to %#x", t.RxMemoryBase, align)
	}
	if t.FifoDepth < 1 {
		return errors.Errorf("toe.fifo_depth %d must be positive", t.FifoDepth)
	}
	if _, err := netip.ParseAddr(t.LocalIP); err != nil {
		return errors.Wrap(err, "toe.local_ip")
	}
	ackDelay, err := time.ParseDuration(t.AckDelay)
	if err != nil {
		return errors.Wrap(err, "toe.ack_delay")
	}
	period, err := time.ParseDuration(t.TickPeriod)
	if err != nil {
		return errors.Wrap(err, "toe.tick_period")
	}
	if ackDelay <= 0 || period < 0 {
		return errors.New("toe.ack_delay must be positive and toe.tick_period not negative")
	}
	if period == 0 && t.ClockMHz <= 0 {
		return errors.New("toe.clock_mhz must be positive when toe.tick_period is 0")
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return errors.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// Engine converts the configuration into engine parameters. c must have
// passed Validate.
func (c *Config) Engine() toe.Config {
	t := c.TOE
	ackDelay, _ := time.ParseDuration(t.AckDelay)
	period, _ := time.ParseDuration(t.TickPeriod)
	addr, _ := netip.ParseAddr(t.LocalIP)
	return toe.Config{
		Sessions:    t.MaxSessions,
		NALSessions: c.NAL.MaxSessions,
		DelayTicks:  ackdelay.DelayTicksFor(ackDelay, t.ClockMHz, t.MaxSessions, period),
		Layout:      rxmem.Layout{Base: t.RxMemoryBase, WindowBits: t.RxWindowBits, Sessions: t.MaxSessions},
		LocalAddr:   addr,
		Depth:       t.FifoDepth,
		TickPeriod:  period,
	}
}
