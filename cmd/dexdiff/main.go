package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	_ "net/http/pprof" // profiling

	"dexdiff/internal/dexdiff/cmd"
	"dexdiff/internal/dexdiff/log"
)

const defaultProfileAddr = "localhost:6060"

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("dexdiff terminated by an unhandled panic")
		os.Exit(2)
	})

	// DEXDIFF_PROFILE=1 serves pprof on the default address, a host:port
	// value on that address.
	if v := os.Getenv("DEXDIFF_PROFILE"); v != "" {
		addr := defaultProfileAddr
		if strings.Contains(v, ":") {
			addr = v
		}
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("pprof listener stopped", "error", err)
			}
		}()
	}

	cmd.Execute()
}
