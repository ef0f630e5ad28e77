// Command telling is a one-shot CLI client for a running telling broker: it
// dials in, issues a single request, push, or subscription wait, prints
// the result, and exits.
//
// Usage:
//
//	telling -config client.yaml request <uri> [body]
//	telling -config client.yaml push <uri> [body]
//	telling -config client.yaml subscribe <uri-prefix>
//
// Publishing is a service-side action (see public/service.Publish): a bare
// client has no standing to publish, only to request, push, or subscribe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/telling-msg/telling/internal/config"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/public/client"
	"github.com/telling-msg/telling/wire"
)

func main() {
	configFlag := flag.String("config", "", "client config file path")
	timeoutFlag := flag.Duration("timeout", client.DefaultTimeout, "call timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: telling [-config file] [-timeout dur] <request|push|subscribe> <uri> [body]")
		os.Exit(2)
	}
	verb, uri := args[0], args[1]
	var body []byte
	if len(args) >= 3 {
		body = []byte(args[2])
	}

	var cfg *config.ClientConfig
	if *configFlag != "" {
		loaded, err := config.LoadClientConfig(*configFlag)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", *configFlag, err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultClientConfig()
	}

	base, err := cfg.Broker.Address()
	if err != nil {
		log.Fatalf("invalid broker address: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	socket := transport.NewSocket()

	switch verb {
	case "request":
		req, err := client.DialRequest(ctx, socket, base, cfg.Debug)
		if err != nil {
			log.Fatalf("dial request: %v", err)
		}
		defer req.Close()
		reply, err := req.Call(ctx, wire.POST, uri, body)
		if err != nil {
			log.Fatalf("call: %v", err)
		}
		fmt.Printf("%s\n%s\n", reply.Status, reply.Body)

	case "push":
		push, err := client.DialPush(ctx, socket, base, cfg.Debug)
		if err != nil {
			log.Fatalf("dial push: %v", err)
		}
		defer push.Close()
		if err := push.Send(wire.POST, uri, body); err != nil {
			log.Fatalf("send: %v", err)
		}

	case "subscribe":
		sub, err := client.DialSubscribe(ctx, socket, base, uri, cfg.Debug)
		if err != nil {
			log.Fatalf("dial subscribe: %v", err)
		}
		defer sub.Close()
		deadline := time.Now().Add(*timeoutFlag)
		for time.Now().Before(deadline) {
			if msg, ok := sub.Consume(); ok {
				fmt.Printf("%s %s\n%s\n", msg.URI, msg.Status, msg.Body)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		log.Fatalf("timed out waiting for a publication on %s", uri)

	default:
		fmt.Fprintf(os.Stderr, "unknown verb %q: want request, push, or subscribe\n", verb)
		os.Exit(2)
	}
}
