package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/piivault/piivault/internal/logging"
	"github.com/piivault/piivault/internal/server/dispatch"
)

// HTTPServer exposes the operation dispatcher over a single invocation
// endpoint, mirroring a function-invoke contract: one POST route, the
// operation named inside the payload, the envelope always returned with
// HTTP 200. Callers branch on the envelope's statusCode.
type HTTPServer struct {
	address    string
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger
}

func NewHTTPServer(a string, d *dispatch.Dispatcher, l logging.Logger) *HTTPServer {
	return &HTTPServer{
		address:    a,
		dispatcher: d,
		logger:     l.With("module", "http_server"),
	}
}

func (s *HTTPServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := uuid.New().String()
	logger := s.logger.With("request_id", requestID)

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn(ctx, "malformed invocation payload", "error", err)
		writeEnvelope(w, dispatch.Response{
			StatusCode: 400,
			Body:       `{"success":false,"error":"malformed JSON payload","type":"ValidationError"}`,
		})
		return
	}

	start := time.Now()
	resp := s.dispatcher.Dispatch(ctx, &req)
	logger.Info(ctx, "operation handled",
		"operation", req.Operation,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	writeEnvelope(w, resp)
}

func writeEnvelope(w http.ResponseWriter, resp dispatch.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *HTTPServer) Run(ctx context.Context) error {

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", s.handleInvoke)

	srv := &http.Server{
		Addr:    s.address,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := NewHTTPServer(app.config.EndpointAddr, app.dispatcher, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}
