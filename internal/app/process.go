package app

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger at the named level (trace, debug,
// info, warn, error).
func NewLogger(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}

// StopOnSignal sets the returned flag and closes the returned channel on the
// first SIGINT or SIGTERM.
func StopOnSignal(log logrus.FieldLogger) (*atomic.Bool, <-chan struct{}) {
	stop := new(atomic.Bool)
	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, stopping", sig)
		stop.Store(true)
		close(done)
		signal.Stop(sigCh)
	}()
	return stop, done
}
