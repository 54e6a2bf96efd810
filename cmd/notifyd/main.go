package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"notifyd"
	"notifyd/models"
)

func main() {
	var (
		title         string
		body          string
		subtitle      string
		priority      string
		platformList  string
		imageURL      string
		configPath    string
		snapshotEvery time.Duration
		wait          time.Duration
		metricsAddr   string
	)

	flag.StringVar(&title, "title", "", "Notification title (required)")
	flag.StringVar(&body, "body", "", "Notification body (plain text)")
	flag.StringVar(&subtitle, "subtitle", "", "Optional subtitle")
	flag.StringVar(&priority, "priority", "normal", "Priority: low|normal|high|critical|urgent")
	flag.StringVar(&platformList, "platforms", "", "Comma separated target platforms (default: all desktop)")
	flag.StringVar(&imageURL, "image", "", "Optional image URL or file path to attach")
	flag.StringVar(&configPath, "config", "", "Optional YAML config file layered over defaults")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 2*time.Second, "Interval between state snapshots on stderr (0=disabled)")
	flag.DurationVar(&wait, "wait", 30*time.Second, "How long to wait for a terminal state before shutting down")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus /metrics on this address (e.g. :2112)")
	flag.Parse()

	if title == "" {
		fmt.Println("No title provided. Example: -title 'Build finished' -body 'all tests green'")
		os.Exit(1)
	}

	cfg := notifyd.Defaults()
	if configPath != "" {
		var err error
		cfg, err = notifyd.LoadFile(configPath, cfg)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if metricsAddr != "" {
		cfg.MetricsEnabled = true
		cfg.PrometheusListenAddr = metricsAddr
	}

	mgr, err := notifyd.New(cfg)
	if err != nil {
		log.Fatalf("create manager: %v", err)
	}

	builder := notifyd.NewNotification().
		WithTitle(title).
		WithBody(models.PlainText(body)).
		WithPriority(parsePriority(priority))
	if subtitle != "" {
		builder = builder.WithSubtitle(subtitle)
	}
	if imageURL != "" {
		builder = builder.WithMedia(models.MediaAttachment{Identifier: "image", Image: imageFromArg(imageURL)})
	}
	if platformList != "" {
		builder = builder.WithPlatforms(parsePlatforms(platformList)...)
	}

	n, err := builder.Build()
	if err != nil {
		log.Fatalf("build notification: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT; a second signal forces exit.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	handle, err := mgr.Send(ctx, n)
	if err != nil {
		log.Fatalf("send: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			log.Println("wait deadline reached")
			break loop
		case <-poll.C:
			status := handle.Status()
			if status == nil {
				break loop
			}
			if err := enc.Encode(status); err != nil {
				log.Printf("encode status: %v", err)
			}
			if status.State.IsTerminal() || status.State == models.StateDelivered || status.State == models.StateFailed {
				break loop
			}
		case <-tickerC(ticker):
			snap := mgr.SnapshotState()
			b, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
		}
	}

	result := mgr.Shutdown()
	fmt.Fprintf(os.Stderr, "shutdown: %s (cancelled %d, errors %d)\n",
		result.Kind, result.Metrics.Cancellations, result.Metrics.CancelErrors)
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func parsePriority(s string) models.Priority {
	switch strings.ToLower(s) {
	case "low":
		return models.PriorityLow
	case "high":
		return models.PriorityHigh
	case "critical":
		return models.PriorityCritical
	case "urgent":
		return models.PriorityUrgent
	default:
		return models.PriorityNormal
	}
}

func parsePlatforms(s string) []models.Platform {
	var out []models.Platform
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "macos", "darwin":
			out = append(out, models.PlatformMacOS)
		case "windows":
			out = append(out, models.PlatformWindows)
		case "linux":
			out = append(out, models.PlatformLinux)
		}
	}
	return out
}

func imageFromArg(arg string) models.ImageData {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") || strings.HasPrefix(arg, "file://") {
		return models.ImageFromURL(arg)
	}
	return models.ImageFromFile(arg)
}
