package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultEngine(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	e := cfg.Engine()
	if e.DelayTicks != 313 {
		t.Fatalf("delay ticks got=%d", e.DelayTicks)
	}
	if e.Layout.WindowSize() != 1<<16 || e.Layout.Base != 0x40000000 || e.Sessions != 32 {
		t.Fatalf("engine config %+v", e)
	}
	if e.TickPeriod != 0 || e.LocalAddr.String() != "10.0.0.1" {
		t.Fatalf("engine config %+v", e)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toe.yaml")
	data := []byte(`
toe:
  max_sessions: 8
  ack_delay: 80us
  rx_window_bits: 12
  rx_memory_base: 0x80000000
  local_ip: 192.168.1.5
  tick_period: 1us
nal:
  max_sessions: 16
log:
  level: debug
  console: false
metrics:
  listen_addr: 127.0.0.1:9100
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TOE.ClockMHz != 156.25 || cfg.TOE.FifoDepth != 16 {
		t.Fatalf("defaults not kept: %+v", cfg.TOE)
	}
	e := cfg.Engine()
	if e.TickPeriod != time.Microsecond || e.DelayTicks != 80/8+1 {
		t.Fatalf("engine config %+v", e)
	}
	if e.Layout.Addr(3, 0x10) != 0x80003010 || e.NALSessions != 16 {
		t.Fatalf("engine config %+v", e)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Console || cfg.Metrics.ListenAddr != "127.0.0.1:9100" {
		t.Fatalf("log/metrics %+v %+v", cfg.Log, cfg.Metrics)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"sessions":  "toe: {max_sessions: 0}",
		"window":    "toe: {rx_window_bits: 30}",
		"alignment": "toe: {rx_memory_base: 0x40001000}",
		"ip":        "toe: {local_ip: nope}",
		"delay":     "toe: {ack_delay: soon}",
		"level":     "log: {level: loud}",
		"yaml":      "toe: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}
