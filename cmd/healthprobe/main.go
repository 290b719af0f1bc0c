// healthprobe is a tiny sidecar that polls the engine's health and ready
// endpoints and re-exposes a combined verdict over fasthttp. Deployment
// systems can point their probes here when the main server sits behind
// an authenticating proxy.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address for the probe")
	target := flag.String("target", "http://127.0.0.1:8080", "base URL of the convosync server")
	interval := flag.Duration("interval", 5*time.Second, "poll interval")
	flag.Parse()

	var healthy, ready atomic.Bool
	client := &http.Client{Timeout: 3 * time.Second}
	poll := func(path string) bool {
		resp, err := client.Get(*target + path)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}

	go func() {
		t := time.NewTicker(*interval)
		defer t.Stop()
		for {
			healthy.Store(poll("/healthz"))
			ready.Store(poll("/readyz"))
			<-t.C
		}
	}()

	h := func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Content-Type", "application/json")
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			if healthy.Load() {
				ctx.SetStatusCode(fasthttp.StatusOK)
				_, _ = ctx.WriteString(`{"status":"ok"}`)
			} else {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString(`{"status":"down"}`)
			}
		case "/readyz":
			if ready.Load() {
				ctx.SetStatusCode(fasthttp.StatusOK)
				_, _ = ctx.WriteString(`{"status":"ready"}`)
			} else {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString(`{"status":"not ready"}`)
			}
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("healthprobe listening on %s, watching %s\n", *addr, *target)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "convosync-healthprobe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("healthprobe exit: %v\n", err)
	}
}
