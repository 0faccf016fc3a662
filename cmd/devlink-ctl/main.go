// Command devlink-ctl is an interactive console for a running devlinkd
// broker.
//
// It connects over WebSocket and speaks the broker's JSON-RPC protocol.
// Responses and asynchronous device.event notifications are printed as
// they arrive.
//
// Usage:
//
//	devlink-ctl [flags]
//
// Flags:
//
//	-addr string   Broker endpoint (default "ws://127.0.0.1:8843")
//	-insecure      Skip TLS certificate verification (self-signed brokers)
//
// Console commands:
//
//	call <method> [json-params]   Invoke an RPC method
//	watch                         Subscribe to device events
//	devices                       Shorthand for call devices.enumerate
//	ping <host[:port]>            Shorthand for call network.ping
//	raw <json>                    Send a raw frame
//	help                          Show commands
//	exit                          Quit
package main

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
)

const consoleHelp = `Commands:
  call <method> [json-params]   Invoke an RPC method
                                e.g. call devices.enumerate {"kind":"printer"}
  watch                         Subscribe to device events
  devices                       List known devices
  ping <host[:port]>            Probe an endpoint (default port 9100)
  raw <json>                    Send a raw JSON-RPC frame
  help                          Show this help
  exit                          Quit
`

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:8843", "broker endpoint")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	flag.Parse()

	dialer := websocket.DefaultDialer
	if *insecure {
		dialer = &websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	conn, _, err := dialer.Dial(*addr, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "devlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create console: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	c := &console{conn: conn, rl: rl}
	go c.readLoop()
	c.inputLoop()
}

type console struct {
	conn   *websocket.Conn
	rl     *readline.Instance
	nextID atomic.Int64
}

// readLoop prints everything the broker sends. Readline's writer keeps
// async output from clobbering the prompt.
func (c *console) readLoop() {
	out := c.rl.Stdout()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			fmt.Fprintf(out, "connection closed: %v\n", err)
			c.rl.Close()
			return
		}
		fmt.Fprintln(out, pretty(data))
	}
}

func (c *console) inputLoop() {
	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "exit", "quit":
			return
		case "help":
			fmt.Fprint(c.rl.Stdout(), consoleHelp)
		case "call":
			c.call(rest)
		case "watch":
			c.send("devices.watch", nil)
		case "devices":
			c.send("devices.enumerate", nil)
		case "ping":
			c.ping(rest)
		case "raw":
			c.raw(rest)
		default:
			fmt.Fprintf(c.rl.Stdout(), "unknown command %q (try help)\n", cmd)
		}
	}
}

func (c *console) call(rest string) {
	method, paramsJSON, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if method == "" {
		fmt.Fprintln(c.rl.Stdout(), "usage: call <method> [json-params]")
		return
	}

	var params json.RawMessage
	if strings.TrimSpace(paramsJSON) != "" {
		if !json.Valid([]byte(paramsJSON)) {
			fmt.Fprintln(c.rl.Stdout(), "params are not valid JSON")
			return
		}
		params = json.RawMessage(paramsJSON)
	}
	c.send(method, params)
}

// ping is shorthand for network.ping against host[:port], defaulting to
// the raw print port.
func (c *console) ping(rest string) {
	target := strings.TrimSpace(rest)
	if target == "" {
		fmt.Fprintln(c.rl.Stdout(), "usage: ping <host[:port]>")
		return
	}

	host := target
	port := 9100
	if h, p, err := net.SplitHostPort(target); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			host, port = h, n
		}
	}

	params, _ := json.Marshal(map[string]any{"host": host, "port": port})
	c.send("network.ping", params)
}

func (c *console) send(method string, params json.RawMessage) {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      c.nextID.Add(1),
	}
	if params != nil {
		req["params"] = params
	}

	data, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "encode error: %v\n", err)
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "write error: %v\n", err)
	}
}

func (c *console) raw(frame string) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		fmt.Fprintln(c.rl.Stdout(), "usage: raw <json>")
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "write error: %v\n", err)
	}
}

// pretty re-indents a JSON frame for display, falling back to the raw
// bytes on anything unparseable.
func pretty(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(out)
}
