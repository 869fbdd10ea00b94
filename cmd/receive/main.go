// Command receive dials an advertised filepipe sender (or a specific
// address:port) and saves incoming files to the given directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/arjunv/filepipe/internal/codegen"
	"github.com/arjunv/filepipe/internal/discovery"
	"github.com/arjunv/filepipe/internal/localxfer"
	"github.com/arjunv/filepipe/internal/supervisor"
	"github.com/arjunv/filepipe/pkg/models"
	"github.com/arjunv/filepipe/pkg/utils"
)

func main() {
	address := flag.String("address", "", "sender address (host), browsed over mDNS if omitted")
	port := flag.Int("port", 0, "sender port (required with -address)")
	code := flag.String("code", "", "session code printed by the sender")
	outputDir := flag.String("output-dir", "received", "directory to save incoming files to")
	logFile := flag.String("log-file", "", "path to log file (optional)")
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	if *code == "" {
		fmt.Fprintln(os.Stderr, "usage: receive -code XXX-XXX [-address host -port N] [-output-dir dir]")
		flag.Usage()
		os.Exit(1)
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	disc := discovery.New(discovery.NewZeroconfPublisher(), discovery.NewZeroconfBrowser(), log.Default())
	sup := supervisor.New(disc, log.Default())

	go func() {
		<-interrupt
		log.Println("interrupt received, shutting down")
		sup.Shutdown()
		cancel()
		os.Exit(1)
	}()

	normalizedCode := codegen.Normalize(*code)
	addr, resolvedPort, err := resolveSenderAddress(ctx, disc, *address, *port, normalizedCode)
	if err != nil {
		log.Fatalf("resolve sender: %v", err)
	}

	receiver, err := sup.StartLocalReceive(ctx, localxfer.Config{}, addr, resolvedPort, normalizedCode, *outputDir)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer sup.Shutdown()

	var bar *progressbar.ProgressBar
	var barFile string
	for ev := range receiver.Events() {
		switch ev.Kind {
		case models.EventConnectionStatus:
			fmt.Println("connected to sender")
		case models.EventConnectionLost:
			fmt.Printf("sender disconnected: %s\n", ev.Reason)
			return
		case models.EventTransferProgress:
			if bar == nil || barFile != ev.FileName {
				bar = progressbar.NewOptions64(ev.TotalBytes,
					progressbar.OptionSetDescription(ev.FileName),
					progressbar.OptionShowBytes(true),
					progressbar.OptionThrottle(100*time.Millisecond),
				)
				barFile = ev.FileName
			}
			_ = bar.Set64(ev.ReceivedBytes)
		case models.EventFileReceived:
			fmt.Printf("\nsaved %s (%s)\n", ev.SavePath, utils.HumanBytes(ev.FileSize))
		case models.EventTransferComplete:
			fmt.Println("transfer complete")
			return
		}
	}
}

// resolveSenderAddress uses the flags directly if given, else browses
// mDNS for a service whose TXT hostname field the user has pointed us at
// via -address, or takes the first service seen when -address is empty.
// Services without an address are skipped.
func resolveSenderAddress(ctx context.Context, disc *discovery.Service, address string, port int, code string) (string, int, error) {
	if address != "" && port != 0 {
		return address, port, nil
	}

	services := disc.Browse(ctx, discovery.DefaultWindow)
	if len(services) == 0 {
		return "", 0, fmt.Errorf("no senders found advertising on the local network")
	}
	for _, svc := range services {
		if address == "" || svc.Hostname == address {
			if len(svc.Addresses) == 0 {
				continue
			}
			return svc.Addresses[0], svc.Port, nil
		}
	}
	return "", 0, fmt.Errorf("no sender matching %q found", address)
}
