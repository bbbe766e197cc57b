package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"toe-nts/pkg/config"
	"toe-nts/pkg/logging"
	"toe-nts/pkg/metrics"
	"toe-nts/pkg/toe"
)

// replTick is the tick period of the background loop when the
// configuration lets the engine run free.
const replTick = time.Millisecond

func main() {
	if len(os.Args) != 1 && (len(os.Args) != 3 || os.Args[1] != "--config") {
		fmt.Println("Usage: ./vtoe [--config <yaml file>]")
		return
	}

	cfg := config.Default()
	if len(os.Args) == 3 {
		var err error
		cfg, err = config.Load(os.Args[2])
		if err != nil {
			fmt.Println("error parsing config file:", err)
			os.Exit(1)
		}
	}
	log := logging.New("vtoe", cfg.Log)
	metrics.RegisterMetrics()

	engineCfg := cfg.Engine()
	h := newHost(toe.New(engineCfg, log), engineCfg.LocalAddr, os.Stdout, log)
	period := engineCfg.TickPeriod
	if period <= 0 {
		period = replTick
	}
	h.startLoop(period)
	defer h.stopLoop()

	if cfg.Metrics.ListenAddr != "" {
		srv := newStatusServer(cfg.Metrics.ListenAddr, h, log)
		srv.start()
		defer srv.shutdown()
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter command:")
	for scanner.Scan() {
		if quit := h.execute(scanner.Text()); quit {
			return
		}
	}
}
