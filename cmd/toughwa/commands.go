package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/adminapi"
	"github.com/talkincode/toughwa/internal/app"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/notify"
	"github.com/talkincode/toughwa/internal/whatsapp"
)

const stopTimeout = 15 * time.Second

// bootstrap loads config and opens the application. The caller releases it.
func bootstrap() *app.Application {
	cfg := config.LoadConfig(configFile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	return application
}

func withService(ctx context.Context, fn func(ctx context.Context, svc *whatsapp.Service) error) error {
	application := bootstrap()
	defer application.Release()

	svc, err := whatsapp.New(application)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		svc.Stop(stopCtx)
	}()
	return fn(ctx, svc)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func parseID(s string) (int64, error) {
	id, err := cast.ToInt64E(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid instance id %q", s)
	}
	return id, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session manager until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return withService(ctx, func(ctx context.Context, svc *whatsapp.Service) error {
				if err := svc.Start(ctx); err != nil {
					return err
				}
				g, gctx := errgroup.WithContext(ctx)
				if web := svc.Config().Web; web.Port > 0 {
					server := adminapi.NewServer(web, svc)
					g.Go(server.Start)
					g.Go(func() error {
						<-gctx.Done()
						shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
						defer cancel()
						return server.Shutdown(shutdownCtx)
					})
				}
				zap.L().Info("toughwa: serving")
				<-gctx.Done()
				zap.L().Info("toughwa: shutting down")
				return g.Wait()
			})
		},
	}
}

func initdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Drop and recreate every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := bootstrap()
			defer application.Release()
			application.InitDb()
			fmt.Println("database initialized")
			return nil
		},
	}
}

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage WhatsApp instances",
	}
	cmd.AddCommand(instanceAddCmd())
	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instancePairCmd())
	cmd.AddCommand(instanceLogoutCmd())
	cmd.AddCommand(instanceRemoveCmd())
	return cmd
}

func instanceAddCmd() *cobra.Command {
	var name, providerName string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a disconnected instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *whatsapp.Service) error {
				inst, err := svc.CreateInstance(ctx, name, domain.Provider(providerName))
				if err != nil {
					return err
				}
				fmt.Printf("created instance %d (%s, %s)\n", inst.ID, inst.Name, inst.Provider)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "instance name")
	cmd.Flags().StringVarP(&providerName, "provider", "p", string(domain.ProviderNativeFlow), "native_flow or template")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *whatsapp.Service) error {
				instances, err := svc.Store().Instances.List(ctx)
				if err != nil {
					return err
				}
				for _, inst := range instances {
					fmt.Printf("%-20d %-16s %-12s %-13s %s\n", inst.ID, inst.Name, inst.Provider, inst.Status, inst.Phone)
				}
				return nil
			})
		},
	}
}

// instancePairCmd connects one instance, renders any QR in the terminal and
// returns once the session is open. Credentials are kept for serve.
func instancePairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <id>",
		Short: "Connect an instance and scan its QR from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return withService(ctx, func(ctx context.Context, svc *whatsapp.Service) error {
				connected, err := waitConnected(svc, id)
				if err != nil {
					return err
				}
				if err := svc.Bus().Subscribe(notify.EventQRCode, func(e notify.Event) {
					if p, ok := e.Payload.(notify.QRPayload); ok && p.InstanceID == id {
						fmt.Println("Scan with WhatsApp > Linked devices:")
						qrterminal.GenerateHalfBlock(p.Raw, qrterminal.L, os.Stdout)
					}
				}); err != nil {
					return err
				}

				res, err := svc.Router().Connect(ctx, id)
				if err != nil {
					return err
				}
				if res.AlreadyConnected {
					fmt.Println("already connected")
					return nil
				}
				select {
				case p := <-connected:
					fmt.Printf("connected as %s (%s)\n", p.Phone, p.ProfileName)
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		},
	}
}

func waitConnected(svc *whatsapp.Service, id int64) (<-chan notify.InstancePayload, error) {
	ch := make(chan notify.InstancePayload, 1)
	err := svc.Bus().Subscribe(notify.EventInstanceConnected, func(e notify.Event) {
		if p, ok := e.Payload.(notify.InstancePayload); ok && p.InstanceID == id {
			select {
			case ch <- p:
			default:
			}
		}
	})
	return ch, err
}

func instanceLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <id>",
		Short: "Disconnect an instance and delete its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *whatsapp.Service) error {
				return svc.Router().Disconnect(ctx, id, true)
			})
		},
	}
}

func instanceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Log out and delete an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *whatsapp.Service) error {
				return svc.Router().Remove(ctx, id)
			})
		},
	}
}

func sendCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <id> <to> <text>",
		Short: "Connect a paired instance and send one text message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return withService(ctx, func(ctx context.Context, svc *whatsapp.Service) error {
				connected, err := waitConnected(svc, id)
				if err != nil {
					return err
				}
				res, err := svc.Router().Connect(ctx, id)
				if err != nil {
					return err
				}
				if res.QRExpected {
					return fmt.Errorf("instance %d is not paired, run instance pair first", id)
				}
				if !res.AlreadyConnected {
					select {
					case <-connected:
					case <-time.After(wait):
						return fmt.Errorf("instance %d did not connect within %s", id, wait)
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				sent, err := svc.Router().SendText(ctx, id, args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Printf("sent %s\n", sent.ID)
				return nil
			})
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 30*time.Second, "how long to wait for the session to open")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configFile)
			token, err := adminapi.IssueToken(cfg.Web.Secret, "admin", ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
