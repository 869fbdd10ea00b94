// Command send starts a local-mode filepipe sender: it binds a listener,
// advertises over mDNS, prints the session code, and streams the given
// files to the first authenticated receiver.
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

	"github.com/arjunv/filepipe/internal/discovery"
	"github.com/arjunv/filepipe/internal/localxfer"
	"github.com/arjunv/filepipe/internal/supervisor"
	"github.com/arjunv/filepipe/pkg/models"
	"github.com/arjunv/filepipe/pkg/utils"
)

func main() {
	port := flag.Int("port", 0, "listening port (0 picks an ephemeral port)")
	hostname := flag.String("hostname", "", "advertised hostname (defaults to os.Hostname())")
	logFile := flag.String("log-file", "", "path to log file (optional)")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: send [flags] file [file...]")
		flag.Usage()
		os.Exit(1)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	hn := *hostname
	if hn == "" {
		h, err := os.Hostname()
		if err != nil {
			log.Fatalf("resolve hostname: %v", err)
		}
		hn = h
	}

	disc := discovery.New(discovery.NewZeroconfPublisher(), discovery.NewZeroconfBrowser(), log.Default())
	sup := supervisor.New(disc, log.Default())

	ctx, cancel := context.WithCancel(context.Background())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Println("interrupt received, shutting down")
		sup.Shutdown()
		cancel()
		os.Exit(1)
	}()

	info, sender, err := sup.StartLocalSend(ctx, localxfer.Config{Port: *port}, hn)
	if err != nil {
		log.Fatalf("start sender: %v", err)
	}
	defer sup.Shutdown()

	fmt.Printf("Session code: %s\n", info.Code)
	fmt.Printf("Listening on %s:%d — waiting for a receiver...\n", info.Address, info.Port)

	var bar *progressbar.ProgressBar
	var barFile string
	var totalSent, lastFileSent int64
	go func() {
		for ev := range sender.Events() {
			switch ev.Kind {
			case models.EventConnectionStatus:
				fmt.Println("receiver connected")
			case models.EventConnectionLost:
				fmt.Printf("receiver disconnected: %s\n", ev.Reason)
			case models.EventTransferProgress:
				if bar == nil || barFile != ev.FileName {
					totalSent += lastFileSent
					lastFileSent = 0
					bar = progressbar.NewOptions64(ev.TotalBytes,
						progressbar.OptionSetDescription(ev.FileName),
						progressbar.OptionShowBytes(true),
						progressbar.OptionThrottle(100*time.Millisecond),
					)
					barFile = ev.FileName
				}
				lastFileSent = ev.SentBytes
				_ = bar.Set64(ev.SentBytes)
			case models.EventTransferComplete:
				totalSent += lastFileSent
				lastFileSent = 0
				fmt.Printf("\ntransfer complete (%s sent)\n", utils.HumanBytes(totalSent))
			}
		}
	}()

	waitForPeer(sender)
	if err := sender.SendFiles(ctx, files); err != nil {
		log.Fatalf("send files: %v", err)
	}
}

func waitForPeer(sender *localxfer.Sender) {
	for !sender.HasAuthenticatedPeer() {
		time.Sleep(50 * time.Millisecond)
	}
}
