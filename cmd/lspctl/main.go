// Command lspctl drives a language server over TCP through the usual opening
// sequence: initialize, initialized, didOpen, definition, documentSymbol, then
// shutdown and exit. Every result and every server-initiated message is printed.
//
//	lspctl -port 2087 -file ./app.py -line 31 -character 17
//	lspctl -self-test
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"mini-lsp/client"
	"mini-lsp/config"
	"mini-lsp/loadbalance"
	"mini-lsp/logger"
	"mini-lsp/middleware"
	"mini-lsp/protocol"
	"mini-lsp/registry"
	"mini-lsp/session"
	"mini-lsp/tracer"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"time"
)

func main() {
	// Trap Ctrl+C for clean shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("lspctl: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("lspctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML or TOML config file")
	host := fs.String("host", "", "language server host (overrides config)")
	port := fs.Int("port", 0, "language server port (overrides config)")
	file := fs.String("file", "", "document to open")
	root := fs.String("root", "", "workspace root (default: the document's directory)")
	language := fs.String("language", "python", "languageId of the document")
	line := fs.Int("line", 31, "0-based line for textDocument/definition")
	character := fs.Int("character", 17, "0-based character for textDocument/definition")
	discover := fs.Bool("discover", false, "pick the server through the configured registry")
	selfTest := fs.Bool("self-test", false, "run against a built-in stub server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	lg, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	doc := document{languageID: *language, line: *line, character: *character}
	switch {
	case *file != "":
		if err := doc.load(*file, *root); err != nil {
			return err
		}
	case *selfTest:
		doc = sampleDocument(*language)
		if set["line"] {
			doc.line = *line
		}
		if set["character"] {
			doc.character = *character
		}
	default:
		return errors.New("-file is required unless -self-test is set")
	}

	if *selfTest {
		stub := newStubServer(lg)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		go stub.ServeListener(ln)
		defer stub.Shutdown(time.Second)
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
		*discover = false
	}

	out := newPrinter(stdout)
	opts := []session.Option{
		session.WithLogger(lg),
		session.WithSink(out.incoming),
		session.WithRequestHandler(answerServerRequest),
		session.WithCallTimeout(cfg.Session.CallTimeout),
		session.WithMiddleware(middleware.FromConfig(cfg.Middleware, lg, session.IsTimeout)...),
		session.WithDecoderOptions(
			protocol.WithMaxHeaderBytes(cfg.Session.MaxHeaderBytes),
			protocol.WithMaxBodyBytes(cfg.Session.MaxBodyBytes),
		),
	}

	var s *session.Session
	if *discover {
		reg, err := registry.FromConfig(cfg.Registry, cfg.Session.DialTimeout)
		if err != nil {
			return err
		}
		if closer, ok := reg.(io.Closer); ok {
			defer closer.Close()
		}
		bal, err := loadbalance.New(cfg.Registry.Balancer)
		if err != nil {
			return err
		}
		cli := client.NewClient(reg, bal,
			client.WithSessionOptions(opts...),
			client.WithDialTimeout(cfg.Session.DialTimeout),
			client.WithLogger(lg),
		)
		defer cli.Close()
		if s, err = cli.Session(ctx, cfg.Registry.Service, doc.uri); err != nil {
			return err
		}
	} else {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Session.DialTimeout)
		s, err = session.Dial(dialCtx, cfg.Server.Host, cfg.Server.Port, opts...)
		cancel()
		if err != nil {
			return err
		}
		defer s.Close()
	}
	lg.Info("connected", "session", s.ID(), "uri", doc.uri)

	return runScenario(ctx, s, out, doc)
}

// document is the file the scenario opens.
type document struct {
	rootURI    string
	uri        string
	languageID string
	text       string
	line       int
	character  int
}

func (d *document) load(path, root string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if root == "" {
		root = filepath.Dir(abs)
	} else if root, err = filepath.Abs(root); err != nil {
		return err
	}
	d.uri = fileURI(abs)
	d.rootURI = fileURI(root)
	d.text = string(text)
	return nil
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
