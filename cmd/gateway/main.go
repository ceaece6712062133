/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command gateway is the process entry point: load configuration, wire
// every internal/ package into a running set of workers behind one
// acceptor, and drive them until a shutdown signal has been handled to
// completion (spec.md §4.2, §4.8).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	spfcbr "github.com/spf13/cobra"

	"github.com/ncbi-psg/gateway-core/internal/acceptor"
	"github.com/ncbi-psg/gateway-core/internal/admin"
	"github.com/ncbi-psg/gateway-core/internal/admission"
	"github.com/ncbi-psg/gateway-core/internal/connlimits"
	"github.com/ncbi-psg/gateway-core/internal/connslot"
	"github.com/ncbi-psg/gateway-core/internal/dispatch/echoproc"
	"github.com/ncbi-psg/gateway-core/internal/fdwatch"
	"github.com/ncbi-psg/gateway-core/internal/gwconfig"
	"github.com/ncbi-psg/gateway-core/internal/gwhandler"
	"github.com/ncbi-psg/gateway-core/internal/httpengine"
	liblog "github.com/ncbi-psg/gateway-core/internal/logger"
	"github.com/ncbi-psg/gateway-core/internal/metrics"
	"github.com/ncbi-psg/gateway-core/internal/shutdown"
	"github.com/ncbi-psg/gateway-core/internal/throttle"
	"github.com/ncbi-psg/gateway-core/internal/worker"
	"github.com/ncbi-psg/gateway-core/internal/zhealth"
)

func main() {
	var (
		configPath string
		healthPath string
		pidFile    string
		noDaemon   bool
	)

	root := &spfcbr.Command{
		Use:   "gateway",
		Short: "NCBI PSG gateway core: accept, admit and dispatch PSG requests",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			return run(configPath, healthPath, pidFile)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the gateway's JSON/YAML/TOML configuration document (required)")
	root.PersistentFlags().StringVar(&healthPath, "health", "", "path to the standalone health-check YAML document (spec.md §6)")
	root.PersistentFlags().StringVar(&pidFile, "pidfile", "", "write the process id to this path at start-up")
	// noDaemon documents the flag callers already know from the source
	// process (-nodaemon, "stay in the foreground"): Go has no fork-twice
	// daemonize primitive and this process never forks, so the flag is
	// accepted and otherwise ignored rather than silently rejected.
	root.PersistentFlags().BoolVar(&noDaemon, "nodaemon", true, "accepted for compatibility; this process never daemonizes itself")
	_ = root.MarkPersistentFlagRequired("config")

	if err := root.Execute(); err != nil {
		liblog.ErrorLevel.Logf("gateway: %v", err)
		os.Exit(1)
	}
}

func run(configPath, healthPath, pidFile string) error {
	cfg, lerr := gwconfig.Load(configPath, healthPath)
	if lerr != nil {
		return fmt.Errorf("loading configuration: %w", lerr)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("writing pidfile: %w", err)
		}
		defer os.Remove(pidFile)
	}

	liblog.SetField("component", "gateway")
	liblog.InfoLevel.Logf("gateway starting: %d worker(s) on port %d", cfg.Network.Workers, cfg.Network.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchdog := shutdown.New()
	stopSignals := watchdog.HandleSignals(ctx)
	defer stopSignals()

	mtr := metrics.New()
	limits := connlimits.NewTracker(cfg.ConnLimit.Limits())
	dispatcher := echoproc.New() // reference processor; a concrete deployment wires in its own.

	engineCfg := &httpengine.Config{
		ReadTimeout: cfg.ConnLimit.IdleTimeout(),
		Name:        "gateway",
		Listen:      net.JoinHostPort(cfg.Network.Address, strconv.Itoa(cfg.Network.Port)),
	}
	if cfg.TLS.Enable {
		tlsCfg, err := cfg.TLS.TLSCertConfig()
		if err != nil {
			return fmt.Errorf("building TLS configuration: %w", err)
		}
		engineCfg.TLS = *tlsCfg
	}

	addr := &net.TCPAddr{Port: cfg.Network.Port}

	workers := make([]*worker.Worker, cfg.Network.Workers)
	workerViews := make([]throttle.WorkerView, cfg.Network.Workers)
	adminViews := make([]admin.WorkerView, cfg.Network.Workers)

	for i := range workers {
		// w is resolved lazily by the handler's lookup closure: the
		// *worker.Worker doesn't exist yet when the handler is built
		// (worker.New needs the handler as an argument), and the handler
		// needs the worker's Controller method once requests start
		// arriving, never before.
		var w *worker.Worker
		lookup := func(conn net.Conn) (*admission.Controller, bool) {
			return w.Controller(conn)
		}
		handler := gwhandler.New(lookup, dispatcher.Register)

		engine := httpengine.New(engineCfg)
		w = worker.New(i, addr, cfg.Network.Backlog, engine, limits, dispatcher, cfg.Network.HTTPMaxRunning, cfg.Network.HTTPMaxBacklog, handler)

		workers[i] = w
		workerViews[i] = w
		adminViews[i] = w
	}

	throttleEngine := throttle.New(cfg.ConnLimit.ThrottleConfig(), workerViews)
	for _, w := range workers {
		w.SetThrottle(throttleEngine)
	}

	submitters := make([]acceptor.Submitter, len(workers))
	for i, w := range workers {
		submitters[i] = w
	}

	accept, aerr := acceptor.New("tcp", net.JoinHostPort(cfg.Network.Address, strconv.Itoa(cfg.Network.Port)), submitters)
	if aerr != nil {
		return fmt.Errorf("binding listener: %w", aerr)
	}

	for _, w := range workers {
		go func(w *worker.Worker) {
			if err := w.Serve(ctx); err != nil {
				liblog.ErrorLevel.Logf("worker %d stopped: %v", w.ID(), err)
			}
		}(w)
	}
	go accept.Run(ctx)

	managementPort := cfg.Network.ManagementPort
	if managementPort == 0 {
		managementPort = cfg.Network.Port + 1
	}
	mgmtSrv := newManagementServer(cfg, adminViews, mtr, managementPort)
	go func() {
		if err := mgmtSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			liblog.ErrorLevel.Logf("management server stopped: %v", err)
		}
	}()

	go runFDWatch(ctx, fdwatch.New(cfg.Shutdown.IfTooManyOpenFD), watchdog)

	go watchdog.Run(ctx, activeGroupCounter(workers), func() {
		mtr.SetShutdownInProgress(true)
		for _, w := range workers {
			w.Close()
		}
	}, nil)

	<-ctx.Done()
	_ = mgmtSrv.Close()
	accept.Close()
	return nil
}

// activeGroupCounter sums every worker's currently-running request count,
// the watchdog's "active processor groups" gate (spec.md §4.8): shutdown
// only completes once this reaches zero.
func activeGroupCounter(workers []*worker.Worker) func() int64 {
	return func() int64 {
		var total int64
		for _, w := range workers {
			w.Connected(func(s *connslot.Slot) bool {
				total += int64(s.NumRunning())
				return true
			})
		}
		return total
	}
}

// runFDWatch polls FD pressure once a second and escalates it into the
// same shutdown watchdog every signal handler feeds: ImmediateExit sets the
// deadline to now, StagedShutdown sets it 2 seconds ahead (spec.md §4.8's
// "shutdown_if_too_many_open_fd" behavior).
func runFDWatch(ctx context.Context, watcher *fdwatch.Watcher, watchdog *shutdown.Watchdog) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch watcher.Check() {
			case fdwatch.ImmediateExit:
				liblog.ErrorLevel.Logf("fdwatch: descriptor cap reached, requesting immediate shutdown")
				watchdog.RequestImmediate(time.Now())
			case fdwatch.StagedShutdown:
				liblog.WarnLevel.Logf("fdwatch: descriptor cap reached, requesting shutdown in 2s")
				watchdog.RequestImmediate(time.Now().Add(2 * time.Second))
			}
		}
	}
}

func newManagementServer(cfg *gwconfig.Config, views []admin.WorkerView, mtr *metrics.Metrics, port int) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	zhealth.New(cfg.Health.ZHealthConfig(port)).Register(r)
	admin.New(cfg.Admin.Names(), views).Register(r)
	r.GET("/metrics", mtr.ExposeGin)

	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Network.Address, strconv.Itoa(port)),
		Handler: r,
	}
}
