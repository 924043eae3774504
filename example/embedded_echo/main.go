package main

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/realm"
)

// embedded_echo mounts realm inside an Echo application: the admin API under
// API_BASE and the path-routing proxy for everything else.
func main() {
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "/_realm"
	}

	cfg := realm.DefaultConfig()
	cfg.Processes["files"] = realm.ProcessConfig{
		Command: "python3 -m http.server 4000 --bind 127.0.0.1",
		Port:    4000,
		Routes:  []string{"/"},
	}

	mgr := realm.New()
	defer mgr.Close()
	if err := mgr.ApplyConfig(cfg); err != nil {
		log.Fatal(err)
	}
	mgr.StartAll()
	defer mgr.StopAll()

	px := realm.NewProxy(cfg, mgr, nil)
	// keep realm's collectors out of the host's default registry
	reg := prometheus.NewRegistry()
	if err := realm.RegisterMetrics(reg); err != nil {
		log.Fatal(err)
	}
	admin := realm.NewAPIHandlerFor(base, mgr, reg)

	e := echo.New()
	e.HideBanner = true
	e.Any(base, echo.WrapHandler(admin))
	e.Any(base+"/*", echo.WrapHandler(admin))
	e.Any("/*", echo.WrapHandler(px.Handler()))

	log.Println("starting echo server on 127.0.0.1:8080; admin API at", base)
	if err := e.Start("127.0.0.1:8080"); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
