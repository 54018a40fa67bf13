package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"apishield/internal/config"
	"apishield/internal/model"
)

// StartTCPStream accepts newline-delimited access-log rows over raw TCP,
// the transport gateway log shippers typically speak.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.Event, skips SkipCounter, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, out, skips, logger)
		}
	}()
}

// handleTCPStreamConn owns one connection and its own parser, so a header
// learned on one stream never remaps rows arriving on another.
func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.Event, skips SkipCounter, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		dispatchLine(ctx, scanner.Text(), "tcp_stream", cfg, parser, out, skips, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
