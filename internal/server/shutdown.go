package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// waitForShutdown returns a channel closed when an interrupt or terminate
// signal is received.
func waitForShutdown() <-chan struct{} {
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		signal.Stop(quit)
		close(done)
	}()
	return done
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the services. Hijacked websocket connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.E.Shutdown(ctx)
	return errors.Join(httpErr, s.App.Close())
}
