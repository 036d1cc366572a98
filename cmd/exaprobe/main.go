// Command exaprobe checks an ExaPlay device from the command line: it
// reads the firmware version and, given a composition, its playback
// status. Exit code 0 means the device answered.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/showctl/exabridge/internal/config"
	"github.com/showctl/exabridge/internal/session"
	"github.com/showctl/exabridge/internal/status"
	"github.com/showctl/exabridge/internal/wire"
)

func main() {
	var (
		host        string
		port        int
		timeoutMS   int
		composition string
		asJSON      bool
		verbose     bool
	)

	defaults := config.Default().Device
	flag.StringVar(&host, "host", defaults.Host, "ExaPlay host")
	flag.IntVar(&port, "port", defaults.Port, "ExaPlay TCP port")
	flag.IntVar(&timeoutMS, "timeout", defaults.CommandTimeout, "Connect and command timeout in milliseconds")
	flag.StringVar(&composition, "composition", "", "Composition to query status for")
	flag.BoolVar(&asJSON, "json", false, "Print results as JSON")
	flag.BoolVar(&verbose, "verbose", false, "Log the session dialogue")
	flag.Parse()

	logOut := io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := defaults
	cfg.Host = host
	cfg.Port = port
	cfg.ConnectTimeout = timeoutMS
	cfg.CommandTimeout = timeoutMS
	// One attempt: a probe reports the first failure instead of
	// retrying through it.
	cfg.MaxAttempts = 1
	cfg.QueueSize = 1

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := probe(ctx, cfg, composition, asJSON, logger); err != nil {
		fmt.Fprintf(os.Stderr, "exaprobe: %v\n", err)
		os.Exit(1)
	}
}

func probe(ctx context.Context, cfg config.DeviceConfig, composition string, asJSON bool, logger *slog.Logger) error {
	device := session.New(ctx, cfg, logger)
	if err := device.Start(); err != nil {
		return err
	}
	defer device.Close()

	reply, err := device.Submit(ctx, wire.GetVersion())
	if err != nil {
		return err
	}
	version, err := wire.ParseVersion(reply)
	if err != nil {
		return err
	}

	var st *status.Status
	if composition != "" {
		reply, err := device.Submit(ctx, wire.GetStatus(composition))
		if err != nil {
			return err
		}
		mapped, err := status.MapCSV(composition, reply.Line)
		if err != nil {
			return err
		}
		st = &mapped
	}

	if asJSON {
		out := struct {
			ExaplayVersion string         `json:"exaplayVersion"`
			Status         *status.Status `json:"status,omitempty"`
		}{ExaplayVersion: version, Status: st}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("version: %s\n", version)
	if st != nil {
		fmt.Printf("composition: %s\nstate: %s\ntime: %.2fs\nframe: %d\nclip: %d\nduration: %.2fs\n",
			st.Composition, st.State, st.Time, st.Frame, st.ClipIndex, st.Duration)
	}
	return nil
}
