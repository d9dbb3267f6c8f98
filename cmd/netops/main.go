// Package main implements the netops fetch tool: a small CLI that downloads
// every URL given on the command line through a netops Manager, with progress
// logging and an optional persistent task journal.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/netkit/netops"
	"github.com/netkit/netops/internal/config"
	"github.com/netkit/netops/internal/platform/logger"
	"github.com/netkit/netops/journal"
	"github.com/netkit/netops/transport"
)

func main() {
	configPath := flag.String("config", "", "optional config file (YAML)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: netops [-config file] url ...")
		os.Exit(2)
	}

	if err := run(*configPath, flag.Args()); err != nil {
		log.Fatalf("netops: %v", err)
	}
}

func run(configPath string, urls []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logg := logger.Setup(cfg.Fetch.LogLevel)

	if err := os.MkdirAll(cfg.Fetch.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	var jrnl netops.Journal
	if cfg.Fetch.JournalPath != "" {
		store, err := journal.Open(cfg.Fetch.JournalPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer store.Close()
		jrnl = store
	}

	client := &http.Client{}
	if cfg.Fetch.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	}

	m, err := netops.New(netops.Config{
		Transport: func(d transport.Delegate) (transport.Session, error) {
			return transport.NewHTTPSession(client, d, logg), nil
		},
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		Journal:       jrnl,
		Logger:        logg,
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	for _, url := range urls {
		url := url
		target := filepath.Join(cfg.Fetch.OutputDir, downloadName(url))

		op, err := m.DownloadOperationURL(url,
			func(op *netops.DownloadOperation, _, totalWritten, totalExpected int64) {
				logg.Debug("download progress",
					"url", url, "written", totalWritten, "expected", totalExpected)
			},
			func(op *netops.DownloadOperation, location string, err error) {
				defer wg.Done()
				if err != nil {
					logg.Error("download failed", "url", url, "error", err)
					mu.Lock()
					failed++
					mu.Unlock()
					return
				}
				logg.Info("download complete", "url", url, "location", location)
			})
		if err != nil {
			return fmt.Errorf("creating download for %s: %w", url, err)
		}
		op.Destination = func(op *netops.DownloadOperation, tempPath string) (string, error) {
			if err := os.Rename(tempPath, target); err != nil {
				return "", err
			}
			return target, nil
		}

		wg.Add(1)
		m.Enqueue(op)
	}

	m.Queue().Wait()
	wg.Wait()

	slog.Info("all transfers settled", "total", len(urls), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(urls))
	}
	return nil
}

// downloadName picks the output filename for a URL.
func downloadName(url string) string {
	name := path.Base(url)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}
