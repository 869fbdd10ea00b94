// Command rendezvous runs the development-only peer-pairing HTTP service
// that internal/remotexfer dials through internal/rendezvous.Client. It
// is not part of the core transfer engine — it exists so remote mode has
// a real collaborator to demo and integration-test against.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/arjunv/filepipe/internal/rendezvous"
)

func main() {
	addr := flag.String("addr", ":7777", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	rendezvous.NewServer(log.Default()).RegisterRoutes(mux)

	log.Printf("rendezvous service listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
