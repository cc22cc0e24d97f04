package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tablescout/billing-cli/internal/model"
	"github.com/tablescout/billing-cli/internal/resolver"
)

var servePort int

type resolveRequest struct {
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Email          string            `json:"email,omitempty"`
	Name           string            `json:"name,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// newRouter builds the resolve API surface: a health probe and the
// synchronous resolution endpoint the webhook handler calls.
func newRouter(res *resolver.Resolver) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/resolve", func(w http.ResponseWriter, req *http.Request) {
		var body resolveRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.CustomerID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_id is required"})
			return
		}

		identity := model.ExternalBillingIdentity{
			ExternalCustomerID: body.CustomerID,
			Email:              body.Email,
			DisplayName:        body.Name,
			Phone:              body.Phone,
			Metadata:           body.Metadata,
		}

		result, err := res.Resolve(req.Context(), identity, body.SubscriptionID)
		if err != nil {
			zap.L().Error("resolve failed",
				zap.String("customer_id", body.CustomerID),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolution failed"})
			return
		}

		writeJSON(w, http.StatusOK, result)
	})

	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the synchronous resolve endpoint for the webhook integration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		policy, err := loadPolicy()
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(resolver.New(st, policy)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
