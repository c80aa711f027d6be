package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liveview-go/liveview/pkg/archive"
	"github.com/liveview-go/liveview/pkg/live"
	"github.com/liveview-go/liveview/pkg/middleware"
	"github.com/liveview-go/liveview/pkg/protocol"
	"github.com/liveview-go/liveview/pkg/source"
	"github.com/liveview-go/liveview/pkg/transport"
)

func serveCmd() *cobra.Command {
	var addr string
	var connectTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo live view server",
		Long: `Start an HTTP server with a live clock page at /, the live
connection endpoint at /live, and Prometheus metrics at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, connectTimeout)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second,
		"How long a rendered page may wait before its first connection")

	return cmd
}

func runServe(addr string, connectTimeout time.Duration) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := live.DefaultConfig()
	cfg.Logger = logger
	cfg.ConnectTimeout = connectTimeout
	cfg.Archive = archive.NewMemoryStore()
	middleware.InstrumentConfig(cfg)

	engine := live.NewEngine(cfg)
	engine.Use(middleware.Prometheus())
	engine.Use(middleware.OTel())

	h := transport.New(engine, transport.WithLogger(logger))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Mount("/live", h.Routes())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", clockPage(engine, logger))

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own deadlines
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("demo server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return engine.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// clockPage renders a page with a live server clock and a greeting button.
func clockPage(engine *live.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		_, err := engine.Render(w, func(root *live.Scope, out io.Writer) error {
			clock := source.NewVar()
			clockID := root.Component(clock, func(_ *live.Scope, value any) protocol.Payload {
				return protocol.Markup(fmt.Sprintf("<time>%v</time>", value))
			})
			go runClock(root.Context(), clock)

			greeting := source.NewVar()
			greetingID := root.Component(greeting, func(_ *live.Scope, value any) protocol.Payload {
				return protocol.Markup(fmt.Sprintf("<em>%v</em>", value))
			})
			greetCB := root.Callback(func(args []any) {
				name := "stranger"
				if len(args) > 0 {
					if s, ok := args[0].(string); ok && s != "" {
						name = s
					}
				}
				greeting.Set("hello, " + name)
			})

			_, werr := fmt.Fprintf(out, clockPageHTML,
				root.Context().ID(), clockID, greetingID, greetCB)
			return werr
		})
		if err != nil {
			logger.Error("page render failed", "error", err)
			http.Error(w, "render failed", http.StatusInternalServerError)
		}
	}
}

// runClock drives the clock source once a second until the session closes.
func runClock(ctx *live.Context, clock *source.Var) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	clock.Set(time.Now().Format("15:04:05"))
	for {
		select {
		case t := <-ticker.C:
			clock.Set(t.Format("15:04:05"))
		case <-ctx.Done():
			return
		}
	}
}

// clockPageHTML takes the context id, the clock and greeting component ids,
// and the greet callback id. The inline client applies replace/remove patches
// and invokes callbacks over the same WebSocket, with SSE + POST fallback.
const clockPageHTML = `<!DOCTYPE html>
<html>
<head><title>liveview demo</title></head>
<body>
  <h1>liveview demo</h1>
  <p>Server time: <span data-live="%[2]d"><time>--:--:--</time></span></p>
  <p><span data-live="%[3]d"></span></p>
  <p>
    <input id="name" placeholder="your name">
    <button onclick="invoke(%[4]d, [document.getElementById('name').value])">Greet</button>
  </p>
  <script>
    const ctxId = %[1]q;
    let ws = null;

    function apply(patches) {
      for (const p of patches) {
        const el = document.querySelector('[data-live="' + p.target + '"]');
        if (!el) continue;
        if (p.mode === 'remove') { el.remove(); continue; }
        if (p.mode === 'attr') { el.setAttribute(p.key, p.data); continue; }
        if (p.mode === 'append') { el.insertAdjacentHTML('beforeend', p.html); continue; }
        if (p.mode === 'prepend') { el.insertAdjacentHTML('afterbegin', p.html); continue; }
        el.innerHTML = p.html;
      }
    }

    function invoke(id, args) {
      if (ws && ws.readyState === WebSocket.OPEN) {
        ws.send(id + ':' + JSON.stringify(args));
        return;
      }
      fetch('/live?id=' + ctxId, {
        method: 'POST',
        body: JSON.stringify([id].concat(args)),
      });
    }

    function connect() {
      const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
      ws = new WebSocket(proto + '//' + location.host + '/live?id=' + ctxId);
      ws.onmessage = (ev) => apply(JSON.parse(ev.data));
      ws.onerror = () => {
        ws = null;
        const es = new EventSource('/live?id=' + ctxId);
        es.onmessage = (ev) => {
          const msg = JSON.parse(ev.data);
          if (!msg.connected) apply(msg);
        };
      };
    }
    connect();
  </script>
</body>
</html>
`
