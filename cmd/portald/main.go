package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/asmogo/portal/config"
	"github.com/asmogo/portal/domain"
	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
)

const usageToken = "one-time token the key-handshake listener expects"

func main() {
	rootCmd := &cobra.Command{Use: "portald"}

	serveCmd := &cobra.Command{Use: "serve", Run: startRouter}
	var handshakeToken string
	serveCmd.Flags().StringVarP(&handshakeToken, "token", "t", "hello", usageToken)

	payCmd := &cobra.Command{Use: "pay <counterpart-pubkey> <amount> <invoice>", Args: cobra.ExactArgs(3), Run: startPaymentRequest}

	rootCmd.AddCommand(serveCmd, payCmd)
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func startRouter(cmd *cobra.Command, _ []string) {
	slog.Info("starting portal router")

	cfg, err := config.LoadConfig[config.RouterConfig]()
	if err != nil {
		panic(err)
	}
	if len(cfg.NostrRelays) == 0 {
		slog.Info("no relays configured, using defaults")
		cfg.NostrRelays = config.DefaultRelays
	}
	if cfg.NostrPrivateKey == "" {
		panic("NOSTR_PRIVATE_KEY is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keypair, err := protocol.NewLocalKeypair(cfg.NostrPrivateKey, nil)
	if err != nil {
		panic(err)
	}

	channel := router.NewRelayPoolChannel(ctx)
	for _, url := range cfg.NostrRelays {
		if err := channel.AddRelay(ctx, url); err != nil {
			slog.Error("failed to connect relay", "relay", url, "error", err)
		}
	}

	r := router.NewRouter(ctx, channel, keypair, slog.Default())

	token, _ := cmd.Flags().GetString("token")
	handshake := domain.NewKeyHandshake(token, keypair.SubkeyProof())
	id, err := r.AddConversation(handshake)
	if err != nil {
		slog.Error("failed to register key handshake listener", "error", err)
	} else {
		slog.Info("key handshake listener registered", "id", id.ToText())
	}

	<-ctx.Done()
	slog.Info("shutting down")
	r.Shutdown()
}

// startPaymentRequest connects, sends a single payment request to the
// given counterpart, and prints the first matching response before
// exiting. Demonstrates AddAndSubscribe driving a MultiKeySender
// conversation to completion.
func startPaymentRequest(cmd *cobra.Command, args []string) {
	counterpart, amountArg, invoice := args[0], args[1], args[2]
	amount, err := strconv.ParseUint(amountArg, 10, 64)
	if err != nil {
		slog.Error("invalid amount", "amount", amountArg, "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig[config.RouterConfig]()
	if err != nil {
		panic(err)
	}
	if len(cfg.NostrRelays) == 0 {
		cfg.NostrRelays = config.DefaultRelays
	}
	if cfg.NostrPrivateKey == "" {
		panic("NOSTR_PRIVATE_KEY is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keypair, err := protocol.NewLocalKeypair(cfg.NostrPrivateKey, nil)
	if err != nil {
		panic(err)
	}

	channel := router.NewRelayPoolChannel(ctx)
	for _, url := range cfg.NostrRelays {
		if err := channel.AddRelay(ctx, url); err != nil {
			slog.Error("failed to connect relay", "relay", url, "error", err)
		}
	}

	r := router.NewRouter(ctx, channel, keypair, slog.Default())

	content := domain.NewSinglePaymentRequestContent(amount, "sat", invoice)
	conv := domain.NewPaymentRequest(counterpart, nil, keypair.PublicKey(), content)

	id, stream, err := router.AddAndSubscribe[domain.PaymentResponseContent](r, conv)
	if err != nil {
		slog.Error("failed to register payment request", "error", err)
		os.Exit(1)
	}
	slog.Info("payment request sent", "id", id.ToText(), "request_id", content.RequestID)

	resp, ok := stream.Next()
	if !ok {
		slog.Error("payment request listener disconnected")
		os.Exit(1)
	}
	slog.Info("payment response received", "status", resp.Status)

	r.Shutdown()
}
