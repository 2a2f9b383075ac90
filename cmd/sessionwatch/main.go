// sessionwatch runs the session engine against a real OIDC issuer and
// prints readiness transitions. SIGHUP simulates a network-restored signal
// and SIGCONT a visibility-restored signal, which makes the debounced
// recovery path observable from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-client/engine"
	"github.com/jrsteele09/go-auth-client/gateway/oidcgateway"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running sessionwatch: %s\n", err)
	}
	log.Printf("sessionwatch stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	gw, err := oidcgateway.New(context.Background(), c, storageSecret(c), oidcgateway.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("oidcgateway.New: %w", err)
	}

	eng, err := engine.New(gw,
		engine.WithLogger(logger),
		engine.WithBootstrapTimeout(c.GetBootstrapTimeout()),
		engine.WithRecoveryDebounce(c.GetRecoveryDebounce()),
		engine.WithRateLimitBackoff(c.GetRateLimitBackoff()),
	)
	if err != nil {
		return fmt.Errorf("engine.New: %w", err)
	}
	defer eng.Close()

	unsubscribe := eng.OnChange(func(state sessionstore.ReadinessState) {
		logger.Info().
			Str("status", string(state.Status)).
			Bool("authenticated", state.Authenticated).
			Bool("isAdmin", state.IsAdmin).
			AnErr("lastError", state.LastError).
			Msg("readiness changed")
	})
	defer unsubscribe()

	state := eng.EnsureInitialized(context.Background())
	logger.Info().
		Str("status", string(state.Status)).
		Bool("authenticated", state.Authenticated).
		Msg("bootstrap resolved")

	waitForStopSignal(eng)
	return nil
}

// waitForStopSignal blocks until interrupted, forwarding SIGHUP and SIGCONT
// to the engine as environment signals.
func waitForStopSignal(eng *engine.Engine) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	env := make(chan os.Signal, 1)
	signal.Notify(env, syscall.SIGHUP, syscall.SIGCONT)

	for {
		select {
		case sig := <-env:
			if sig == syscall.SIGHUP {
				eng.OnEnvironmentSignal(engine.SignalNetworkRestored)
			} else {
				eng.OnEnvironmentSignal(engine.SignalVisibilityRestored)
			}
		case <-stop:
			return
		}
	}
}

// storageSecret derives the token-file sealing secret. It must be stable
// across restarts; client credentials plus hostname are enough for a demo
// tool.
func storageSecret(c config.Config) []byte {
	host, _ := os.Hostname()
	return []byte(c.GetClientID() + c.GetClientSecret() + host)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
