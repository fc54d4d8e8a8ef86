// Command cacheserver runs a standalone HTTP service fronting a
// tieredcache.Coordinator: GET/PUT/DELETE /cache/{key}, an admin API,
// health probes, and a Prometheus metrics endpoint, all driven by a
// single YAML config file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pozitronik/tieredcache/internal/cacheserver"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the cache server's YAML configuration file")
	flag.Parse()

	if err := cacheserver.Run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "cacheserver:", err)
		os.Exit(1)
	}
}
