package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkantrust/charge-ledger/handlers"
	"github.com/arkantrust/charge-ledger/owners"
	"github.com/arkantrust/charge-ledger/processor"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive processor webhooks and serve the ledger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Address
			}
			if a.cfg.Stripe.WebhookSecret == "" {
				a.log.Warn("no webhook secret configured, every delivery will be rejected")
			}

			h := handlers.New(a.log, a.store, a.ingestor, a.resolver, a.cfg.Stripe.WebhookSecret)

			mux := http.NewServeMux()
			h.Register(mux, corsMiddleware)

			// Handle pre-flight OPTIONS requests for all paths.
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodOptions {
					setCORSHeaders(w)
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.NotFound(w, r)
			})

			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx) //nolint:errcheck
			}()

			a.log.Info("listening", zap.String("addr", addr), zap.String("ledger", a.cfg.Ledger.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.address)")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a JSON array of exported processor charges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			events, err := processor.DecodeCharges(data)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.ingestor.IngestAll(cmd.Context(), events)
			fmt.Fprintf(cmd.OutOrStdout(), "created: %d, updated: %d, skipped: %d\n", stats.Created, stats.Updated, stats.Skipped)
			return err
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [charge id | local id]",
		Short: "Print the invoice of one charge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := handlers.FindCharge(a.store, args[0])
			if err != nil {
				return err
			}
			owner, err := a.resolver.Owner(cmd.Context(), c)
			if err != nil && !errors.Is(err, owners.ErrOwnerNotFound) {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(handlers.NewInvoiceView(c, owner))
		},
	}
}

// setCORSHeaders adds CORS headers to a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// corsMiddleware wraps an http.Handler with CORS support.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
