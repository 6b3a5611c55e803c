// Command overlay-probe attaches WebSocket clients to a running masking
// pipeline and reports the rectangle stream it serves. Useful as a
// renderer-less debug viewer and as a fan-out smoke test for the hub.
package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

type probeOptions struct {
	addr     string
	n        int
	duration time.Duration
	verbose  bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &probeOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *probeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "overlay-probe",
		Short:         "Watch the overlay rectangle stream without a renderer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8417", "overlay endpoint address")
	cmd.Flags().IntVar(&opts.n, "n", 1, "number of clients to attach")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "how long to listen")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print every payload")

	return cmd
}

type probeCounters struct {
	frames     atomic.Int64
	rects      atomic.Int64
	outOfOrder atomic.Int64
	dialErrs   atomic.Int64
}

func runWithOptions(opts probeOptions) error {
	u := url.URL{Scheme: "ws", Host: opts.addr, Path: "/overlay/ws"}

	var wg sync.WaitGroup
	var c probeCounters

	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probe(u.String(), opts, &c)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Fprintf(os.Stdout, "clients=%d frames=%d rects=%d out_of_order=%d dial_errors=%d elapsed=%s\n",
		opts.n, c.frames.Load(), c.rects.Load(), c.outOfOrder.Load(), c.dialErrs.Load(), elapsed)
	return nil
}

// probe reads payloads from one connection until the listen window closes
// or the server hangs up.
func probe(wsURL string, opts probeOptions, c *probeCounters) {
	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		c.dialErrs.Add(1)
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", wsURL, err)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(opts.duration))
	var lastSeq uint64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			return
		}

		seq := gjson.GetBytes(msg, "seq").Uint()
		rects := gjson.GetBytes(msg, "rects.#").Int()
		c.frames.Add(1)
		c.rects.Add(rects)
		if seq <= lastSeq {
			c.outOfOrder.Add(1)
		} else {
			lastSeq = seq
		}

		if opts.verbose {
			fmt.Fprintf(os.Stdout, "seq=%d monitor=%d rects=%d style=%s\n",
				seq, gjson.GetBytes(msg, "monitor_id").Int(), rects,
				gjson.GetBytes(msg, "style").String())
		}
	}
}
