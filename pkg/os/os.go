package os

import (
	"os"
	"os/signal"
	"syscall"
)

// ExpectTermination signals once on SIGINT/SIGTERM.
func ExpectTermination() chan struct{} {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{}, 1)
	go func() {
		<-signals
		done <- struct{}{}
	}()
	return done
}
