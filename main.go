package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brandshell/service/config"
	"brandshell/service/guard"
	"brandshell/service/notification"
	"brandshell/service/pairing"
	"brandshell/service/pushrelay"
	"brandshell/service/server"
	"brandshell/service/shell"
	"brandshell/service/util"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func init() {
	_ = godotenv.Load() //nolint:errcheck // .env is optional
}

var rootCmd = &cobra.Command{
	Use:           "brandshell",
	Short:         "Branded web shell with a guarded content bridge and push routing",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the branded content and start the control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Brandshell %s (%s)\n", version, commit)
	},
}

var qrOpts struct {
	url string
	out string
}

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Write a QR code of the content address in brand colours",
	RunE: func(cmd *cobra.Command, args []string) error {
		brand, _, err := config.LoadBrandFromEnv()
		if err != nil {
			return err
		}
		target := qrOpts.url
		if target == "" {
			target = brand.ContentURL
		}
		png, err := pairing.PNG(target, pairing.Options{
			Foreground: brand.Colors.Primary,
			Background: brand.Colors.Background,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile(qrOpts.out, png, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", qrOpts.out, err)
		}
		fmt.Printf("Wrote %s for %s\n", qrOpts.out, target)
		return nil
	},
}

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Generate a VAPID key pair for encrypted Web Push",
	RunE: func(cmd *cobra.Command, args []string) error {
		private, public, err := pushrelay.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("failed to generate VAPID keys: %w", err)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", public, private)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push notification tools",
}

var pushSendOpts struct {
	endpoint string
	p256dh   string
	auth     string
	payload  string
}

var pushSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a notification payload to a push endpoint",
	Example: `  brandshell push send --endpoint https://relay.example.com/api/v1/push/relay/KEY \
    --payload '{"notification":{"title":"Trip"},"data":{"screen":"trips","id":"42"}}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := notification.ParsePayload([]byte(pushSendOpts.payload))
		if err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		sub := pushrelay.Subscription{
			Endpoint:        pushSendOpts.endpoint,
			P256dh:          pushSendOpts.p256dh,
			Auth:            pushSendOpts.auth,
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		}

		logger := util.NewLogger(false)
		sender := pushrelay.NewSender(&http.Client{Timeout: 30 * time.Second}, logger)
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := sender.Send(ctx, sub, payload); err != nil {
			return err
		}
		fmt.Println("Notification sent")
		return nil
	},
}

var guardOpts struct {
	base  string
	allow []string
}

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Inspect the navigation allow-list",
}

var guardCheckCmd = &cobra.Command{
	Use:   "check URL...",
	Short: "Show whether each URL may be loaded in the content view",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, extra := guardOpts.base, guardOpts.allow
		if base == "" {
			brand, _, err := config.LoadBrandFromEnv()
			if err != nil {
				return err
			}
			base = brand.ContentURL
			if len(extra) == 0 {
				extra = brand.AllowedDomains
			}
		}

		list, err := guard.Derive(base, extra)
		if err != nil {
			return err
		}
		fmt.Printf("Allowed: %v\n", list.Strings())
		for _, u := range args {
			fmt.Printf("%-5s %s\n", guard.Evaluate(u, list), u)
		}
		return nil
	},
}

var routeCmd = &cobra.Command{
	Use:   "route PAYLOAD",
	Short: "Print where a push payload would navigate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := notification.ParsePayload([]byte(args[0]))
		if err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		dest := notification.Route(payload)
		out := map[string]any{"destination": dest}
		if target, ok := dest.Target(); ok {
			out["target"] = target
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	qrCmd.Flags().StringVar(&qrOpts.url, "url", "", "address to encode (default: brand content URL)")
	qrCmd.Flags().StringVarP(&qrOpts.out, "out", "o", "brandshell-qr.png", "output file")

	pushSendCmd.Flags().StringVar(&pushSendOpts.endpoint, "endpoint", "", "push endpoint URL")
	pushSendCmd.Flags().StringVar(&pushSendOpts.p256dh, "p256dh", "", "subscription public key for encrypted delivery")
	pushSendCmd.Flags().StringVar(&pushSendOpts.auth, "auth", "", "subscription auth secret for encrypted delivery")
	pushSendCmd.Flags().StringVar(&pushSendOpts.payload, "payload", "", "notification payload JSON")
	_ = pushSendCmd.MarkFlagRequired("endpoint")
	_ = pushSendCmd.MarkFlagRequired("payload")
	pushCmd.AddCommand(pushSendCmd)

	guardCheckCmd.Flags().StringVar(&guardOpts.base, "base", "", "content base address (default: brand content URL)")
	guardCheckCmd.Flags().StringSliceVar(&guardOpts.allow, "allow", nil, "extra allowed domains")
	guardCmd.AddCommand(guardCheckCmd)

	rootCmd.AddCommand(serveCmd, qrCmd, vapidCmd, pushCmd, guardCmd, routeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := util.NewLogger(false)
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := util.NewLogger(cfg.VerboseLogging)
	logger.Info("Starting Brandshell", "version", version, "brand", cfg.Brand.Name)
	if !cfg.ContentURLConfigured() {
		logger.Warn("No content URL configured, the shell will start in its configuration error state")
	}

	sh, err := shell.New(cfg, shell.Deps{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create shell: %w", err)
	}
	srv := server.New(cfg, sh, version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, logger, sh, srv)
}

// run serves until a signal arrives or either half stops, then stops
// the other half.
func run(ctx context.Context, logger *slog.Logger, sh *shell.Shell, srv *server.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shellErr := make(chan error, 1)
	go func() { shellErr <- sh.Run(ctx) }()

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(ctx) }()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err = <-shellErr:
		shellErr = nil
	case err = <-serverErr:
		serverErr = nil
	}
	cancel()

	if shellErr != nil {
		err = errors.Join(err, <-shellErr)
	}
	if serverErr != nil {
		err = errors.Join(err, <-serverErr)
	}
	return err
}
