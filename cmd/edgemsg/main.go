package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgemsg/internal/config"
	"github.com/danmuck/edgemsg/internal/edgedata"
	"github.com/danmuck/edgemsg/internal/event"
	"github.com/danmuck/edgemsg/internal/hostaddr"
	"github.com/danmuck/edgemsg/internal/logging"
	"github.com/danmuck/edgemsg/internal/memory"
	"github.com/danmuck/edgemsg/internal/observability"
	"github.com/danmuck/edgemsg/internal/protocol/session"
	"github.com/danmuck/edgemsg/internal/protocol/wire"
)

const usage = `usage: edgemsg [-config path] <command> [flags]

commands:
  encode     build an edge data frame from files and metadata
  decode     read a frame and print its metadata and buffers
  send       stream an edge data frame to a listening peer
  listen     accept one peer and print every frame it sends
  port       print a host:port string with a free local port
`

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log := logging.For("edgemsg")
		log.Error().Err(err).Msg("edgemsg failed")
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("edgemsg", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	cfgPath := global.String("config", "", "path to config.toml")
	if err := global.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Apply()

	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	switch rest[0] {
	case "encode":
		return runEncode(cfg, rest[1:])
	case "decode":
		return runDecode(cfg, rest[1:], stdout)
	case "send":
		return runSend(cfg, rest[1:])
	case "listen":
		return runListen(cfg, rest[1:], stdout)
	case "port":
		return runPort(rest[1:], stdout)
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

// metaFlags collects repeated -meta key=value flags.
type metaFlags []string

func (m *metaFlags) String() string {
	return strings.Join(*m, ",")
}

func (m *metaFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("metadata %q is not key=value", v)
	}
	*m = append(*m, v)
	return nil
}

func runEncode(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	out := fs.String("out", "", "output frame path")
	id := fs.Uint64("id", 1, "message id")
	var meta metaFlags
	fs.Var(&meta, "meta", "metadata key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("encode: -out is required")
	}
	if fs.NArg() == 0 {
		return errors.New("encode: at least one input file is required")
	}

	d, err := buildData(fs.Args(), meta)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	defer d.Destroy()

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	defer f.Close()
	if err := wire.Send(f, *id, d, cfg.FrameLimits()); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	n, _ := d.Count()
	log := logging.For("edgemsg")
	log.Info().Str("out", *out).Int("buffers", n).Msg("frame written")
	return nil
}

// buildData loads each file into an owned buffer and attaches meta.
func buildData(paths []string, meta metaFlags) (*edgedata.Data, error) {
	a := memory.Default()
	d := edgedata.NewWithAllocator(a)
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			_ = d.Destroy()
			return nil, err
		}
		owned, err := a.Dup(raw)
		if err != nil {
			_ = d.Destroy()
			return nil, err
		}
		if err := d.Add(memory.Owned(owned, a.Free)); err != nil {
			a.Free(owned)
			_ = d.Destroy()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, kv := range meta {
		k, v, _ := strings.Cut(kv, "=")
		if err := d.SetInfo(k, v); err != nil {
			_ = d.Destroy()
			return nil, err
		}
	}
	return d, nil
}

func runDecode(cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	in := fs.String("in", "", "input frame path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("decode: -in is required")
	}
	f, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	defer f.Close()

	return wire.Receive(f, cfg.FrameLimits(), printEvent(stdout))
}

// printEvent returns a callback that writes each event to w.
func printEvent(w io.Writer) event.Callback {
	return func(ev *event.Event) error {
		kind, err := ev.Kind()
		if err != nil {
			return err
		}
		switch kind {
		case event.Capability:
			caps, err := ev.ParseCapability()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "capability: %s\n", caps)
			memory.FreeString(caps)
			return nil
		case event.NewDataReceived:
			d, err := ev.ParseNewData()
			if err != nil {
				return err
			}
			defer d.Destroy()
			return printData(w, d)
		default:
			fmt.Fprintf(w, "event: %s\n", kind)
			return nil
		}
	}
}

func runSend(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	addr := fs.String("addr", "", "peer host:port")
	caps := fs.String("caps", "", "capability to announce before the data")
	var meta metaFlags
	fs.Var(&meta, "meta", "metadata key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, _, err := hostaddr.ParseHostString(*addr); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if fs.NArg() == 0 {
		return errors.New("send: at least one input file is required")
	}
	d, err := buildData(fs.Args(), meta)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer d.Destroy()

	conn, err := session.Dial(context.Background(), *addr, cfg.SessionConfig(), cfg.FrameLimits(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if *caps != "" {
		if err := conn.SendCapability(*caps); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	id, err := conn.SendData(d)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	log := logging.For("edgemsg")
	log.Info().Str("addr", *addr).Uint64("message_id", id).Msg("frame sent")
	return nil
}

func runListen(cfg config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "address to bind")
	port := fs.Int("port", 0, "port to bind (0 picks a free one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 {
		*port = hostaddr.AvailablePort()
	}
	addr, err := hostaddr.HostString(*host, *port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	log := logging.For("edgemsg")
	log.Info().Str("addr", addr).Msg("waiting for peer")

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		srv := observability.NewServer("edgemsg-listen")
		if _, err := srv.Start(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("listen: metrics: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	c, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	conn := session.New(c, cfg.SessionConfig(), cfg.FrameLimits(), printEvent(stdout))
	defer conn.Close()
	return conn.Serve(context.Background())
}

func printData(w io.Writer, d *edgedata.Data) error {
	keys, err := d.InfoKeys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, err := d.GetInfo(k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "meta %s=%s\n", k, v)
		d.FreeInfo(v)
	}
	n, err := d.Count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		b, err := d.Get(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "buffer[%d] %d bytes\n", i, len(b))
	}
	return nil
}

func runPort(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("port", flag.ContinueOnError)
	host := fs.String("host", "localhost", "host name to pair with the port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	port := hostaddr.AvailablePort()
	if port == 0 {
		return errors.New("port: no available port")
	}
	s, err := hostaddr.HostString(*host, port)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, s)
	return nil
}
