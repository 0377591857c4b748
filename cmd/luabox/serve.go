package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/caffeineduck/luabox/mcpserver"
	"github.com/caffeineduck/luabox/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the eval_lua and list_globals tools",
	Long: `Serve the eval_lua and list_globals tools over MCP.

By default the server speaks MCP over stdio. With --http it listens on the
given address and serves:

Endpoints:
  POST   /mcp                   MCP streamable HTTP transport
  POST   /eval                  Evaluate code, {"sessionId","code","args","timeout"}
  GET    /sessions/{id}/globals List globals (?all=true keeps the standard ones)
  GET    /health                Health check

Sessions are created on first use and kept until the server exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("http", "", "Listen address for HTTP (e.g. :8080); stdio when empty")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	httpAddr, _ := cmd.Flags().GetString("http")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pool, err := newPool(cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := tool.NewService(pool, tool.WithLogger(logger))
	server := mcpserver.New(svc, version, logger)

	ctx := cmd.Context()
	if httpAddr == "" {
		logger.Info("serving MCP over stdio")
		return server.Run(ctx, &mcp.StdioTransport{})
	}
	return serveHTTP(ctx, httpAddr, newHTTPHandler(svc, server, logger), logger)
}

// serveHTTP runs handler on addr until ctx is done, then shuts down.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("luabox server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type evalRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code"`
	Args      []any  `json:"args,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type evalResponse struct {
	SessionID  string            `json:"sessionId"`
	Result     json.RawMessage   `json:"result"`
	Prints     []json.RawMessage `json:"prints,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

type httpHandlers struct {
	svc    *tool.Service
	logger *slog.Logger
}

func newHTTPHandler(svc *tool.Service, server *mcp.Server, logger *slog.Logger) http.Handler {
	h := &httpHandlers{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil))
	mux.HandleFunc("POST /eval", h.eval)
	mux.HandleFunc("GET /sessions/{id}/globals", h.globals)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (h *httpHandlers) eval(w http.ResponseWriter, r *http.Request) {
	var req evalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	out := h.svc.Eval(ctx, tool.EvalInput{SessionID: req.SessionID, Code: req.Code, Args: req.Args}, nil)

	resp := evalResponse{
		SessionID:  out.SessionID,
		Result:     json.RawMessage(out.Result),
		DurationMs: time.Since(start).Milliseconds(),
		Error:      out.Error,
	}
	for _, p := range out.Prints {
		resp.Prints = append(resp.Prints, json.RawMessage(p))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) globals(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListGlobals(r.Context(), tool.ListGlobalsInput{
		SessionID: r.PathValue("id"),
		NoFilter:  r.URL.Query().Get("all") == "true",
	})
	switch {
	case errors.Is(err, tool.ErrSessionRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *httpHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response", "error", err)
	}
}
