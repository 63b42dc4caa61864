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

package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ryantm/sozu/internal/admin"
	"github.com/ryantm/sozu/internal/config"
	"github.com/ryantm/sozu/internal/control"
	"github.com/ryantm/sozu/internal/logger"
	"github.com/ryantm/sozu/internal/metrics"
	"github.com/ryantm/sozu/internal/proxy"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "sozu",
		Short: "Reconfigurable TCP/HTTP/TLS reverse proxy",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "sozu.yaml", "path to the bootstrap configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, cerr := config.Load(configPath)
	if cerr != nil {
		return cerr
	}

	log := logger.New(os.Stdout, levelFor(cfg.LogLevel))
	reg := prometheus.NewRegistry()
	sink := metrics.NewSink(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	router := control.NewRouter()
	var sources []admin.StatusSource

	if cfg.HTTP != nil {
		eng, err := bootProtocolEngine(ctx, proxy.ProtoHTTP, cfg.HTTP.MaxConnections, log, sink)
		if err != nil {
			return err
		}
		if err := eng.ListenHTTP(ctx, cfg.HTTP.Port); err != nil {
			return err
		}
		router.Register(eng.Topic(), eng.Handler(ctx))
		sources = append(sources, eng)
	}

	if cfg.TLS != nil {
		eng, err := bootProtocolEngine(ctx, proxy.ProtoTLS, cfg.TLS.MaxConnections, log, sink)
		if err != nil {
			return err
		}
		if err := eng.ListenTLS(ctx, cfg.TLS.Port); err != nil {
			return err
		}
		router.Register(eng.Topic(), eng.Handler(ctx))
		sources = append(sources, eng)
	}

	if len(cfg.TCP) > 0 {
		eng, err := bootProtocolEngine(ctx, proxy.ProtoTCP, 0, log, sink)
		if err != nil {
			return err
		}
		for _, l := range cfg.TCP {
			if err := eng.ListenTCP(ctx, l.Port, l.DefaultApp); err != nil {
				return err
			}
		}
		router.Register(eng.Topic(), eng.Handler(ctx))
		sources = append(sources, eng)
	}

	if cfg.AdminListen != "" {
		adminEngine := admin.NewEngine(reg, sources...)
		go func() {
			if err := adminEngine.Run(cfg.AdminListen); err != nil {
				log.Errorf("admin server exited: %v", err)
			}
		}()
	}

	watcher, err := config.WatchFile(configPath, log, func(fresh *config.ProxyConfig) {
		log.WithField("path", configPath).Info("configuration file changed; live-reload of bound fronts is not yet wired, restart to apply")
	})
	if err == nil {
		defer watcher.Close()
	} else {
		log.Warnf("could not start configuration watcher: %v", err)
	}

	go serveControlSocket(ctx, cfg.ControlSocket, router, log)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// bootProtocolEngine builds and starts one protocol family's Engine
// goroutine.
func bootProtocolEngine(ctx context.Context, proto proxy.Protocol, maxConnections int, log logger.Logger, sink *metrics.Sink) (*proxy.Engine, error) {
	opts := proxy.DefaultEngineOptions()
	if maxConnections > 0 {
		opts.Limits.MaxSessions = maxConnections
	}
	eng, err := proxy.NewEngine(proto, opts, log, sink)
	if err != nil {
		return nil, err
	}
	go eng.Run(ctx)
	return eng, nil
}

// serveControlSocket accepts newline-delimited control-channel
// messages over a Unix domain socket. Each connection's orders are
// decoded, dispatched through router and replied to in order.
func serveControlSocket(ctx context.Context, path string, router *control.Router, log logger.Logger) {
	if path == "" {
		return
	}
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		log.Errorf("control socket listen failed: %v", err)
		return
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleControlConn(conn, router, log)
	}
}

func handleControlConn(conn net.Conn, router *control.Router, log logger.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		order, derr := control.Decode(scanner.Bytes())
		if derr != nil {
			log.Warnf("control message decode failed: %v", derr)
			continue
		}
		if order.ID == "" {
			order.ID = uuid.NewString()
		}
		for _, reply := range router.Dispatch(order) {
			fmt.Fprintf(conn, "%s\n", replyLine(reply))
		}
	}
}

func replyLine(m control.ServerMessage) string {
	switch m.Status {
	case control.StatusOk:
		return fmt.Sprintf(`{"id":%q,"status":"ok"}`, m.ID)
	case control.StatusProcessing:
		return fmt.Sprintf(`{"id":%q,"status":"processing"}`, m.ID)
	default:
		return fmt.Sprintf(`{"id":%q,"status":"error","message":%q}`, m.ID, m.Message)
	}
}

func levelFor(name string) logger.Level {
	switch name {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
