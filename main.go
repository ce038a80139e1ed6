package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/term"

	"github.com/mockexam/livefeed/internal/api"
	"github.com/mockexam/livefeed/internal/applog"
	"github.com/mockexam/livefeed/internal/cache"
	"github.com/mockexam/livefeed/internal/config"
	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/db"
	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/identity"
	"github.com/mockexam/livefeed/internal/notify"
	"github.com/mockexam/livefeed/internal/relay"
	"github.com/mockexam/livefeed/internal/router"
	"github.com/mockexam/livefeed/internal/ui"
)

const usage = `usage:
  livefeed                              watch live events (LIVEFEED_TOKEN)
  livefeed relay                        run the development relay
  livefeed token <userId> <role>        issue a relay token
  livefeed send <userId> <type> <msg>   send a notification (admin token)
`

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func main() {
	args := os.Args[1:]
	cmd := "watch"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Print(usage)
		return
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:    cfg.LogDir,
		LogLevel:  cfg.LogLevel,
		LogFormat: cfg.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		logger = slog.Default()
	} else {
		defer logCloser.Close()
	}

	switch cmd {
	case "watch":
		err = runWatch(cfg, logger)
	case "relay":
		err = runRelay(cfg, logger)
	case "token":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = runToken(cfg, args[0], args[1])
	case "send":
		if len(args) < 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = runSend(cfg, logger, args[0], args[1], strings.Join(args[2:], " "))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

// sessionIdentity reads the session token from the environment. The server
// verifies it on the handshake; locally it only names the user and role.
func sessionIdentity() (string, identity.Identity, error) {
	token := strings.TrimSpace(os.Getenv("LIVEFEED_TOKEN"))
	if token == "" {
		return "", identity.Identity{}, errors.New("LIVEFEED_TOKEN is not set (see 'livefeed token')")
	}
	id, err := identity.FromToken(token)
	if err != nil {
		return "", identity.Identity{}, fmt.Errorf("session token: %w", err)
	}
	return token, id, nil
}

func openDB(path string) (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newManager(cfg config.Config, r *router.Router, status conn.StatusNotifier, logger *slog.Logger) *conn.Manager {
	transport := conn.NewWebSocketTransport(cfg.Server.URL, conn.WithTransportLogger(logger))
	opts := cfg.ConnOptions()
	opts.Logger = logger
	opts.Status = status
	return conn.New(transport, r, opts)
}

func runWatch(cfg config.Config, logger *slog.Logger) error {
	token, id, err := sessionIdentity()
	if err != nil {
		return err
	}

	store, err := openDB(cfg.Cache.DBPath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	clock := clockwork.NewRealClock()
	queries := cache.New(store, api.New(cfg.Server.APIURL, token), clock, logger)
	invalidator := cache.NewInvalidator(queries, logger)
	r := router.New(logger)
	pusher := notify.NewPusher(cfg.NotifyConfig(), logger)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return runHeadless(cfg, logger, r, notify.NewDispatcher(notify.NewConsoleToaster(os.Stdout), pusher, logger), invalidator, token, id)
	}

	toasts := ui.NewToastLayer(clock)
	dispatcher := notify.NewDispatcher(toasts, pusher, logger)
	defer dispatcher.Close()

	app := ui.NewApp(ui.Deps{
		Router:          r,
		Conn:            newManager(cfg, r, dispatcher, logger),
		Dispatcher:      dispatcher,
		Cache:           queries,
		Invalidator:     invalidator,
		Toasts:          toasts,
		Identity:        id,
		Token:           token,
		MaxAttempts:     cfg.Reconnect.MaxAttempts,
		RefreshInterval: cfg.Cache.RefreshInterval.Std(),
	}, logger)
	return app.Run()
}

// runHeadless prints toasts and state changes to stdout until interrupted.
func runHeadless(cfg config.Config, logger *slog.Logger, r *router.Router, dispatcher *notify.Dispatcher,
	invalidator *cache.Invalidator, token string, id identity.Identity) error {
	defer dispatcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scope := r.Scope()
	defer scope.Close()
	dispatcher.Bind(scope)
	invalidator.BindRecovery(scope)
	scope.On(events.ConnectionState, stateWriter(os.Stdout, cfg.Reconnect.MaxAttempts))

	m := newManager(cfg, r, dispatcher, logger)
	if err := m.Connect(token, id); err != nil {
		return err
	}
	defer m.Disconnect()

	fmt.Printf("watching live events as %s (ctrl-c to stop)\n", id)
	<-ctx.Done()
	return nil
}

func stateWriter(w io.Writer, maxAttempts int) router.Handler {
	return func(ev events.Event) error {
		var sc conn.StateChange
		if err := ev.Decode(&sc); err != nil {
			return err
		}
		line := fmt.Sprintf("%s  connection %s", ev.ReceivedAt.Format("15:04:05"), sc.To)
		if sc.To == conn.StateReconnecting {
			line += fmt.Sprintf(" (attempt %d/%d)", sc.Attempt, maxAttempts)
		}
		if sc.Error != "" {
			line += ": " + sc.Error
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
}

func runRelay(cfg config.Config, logger *slog.Logger) error {
	if err := config.EnsureJWTSecret(config.DefaultPath(), &cfg); err != nil {
		return fmt.Errorf("persist relay secret: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.New(relay.Config{
		Host:      cfg.Relay.Host,
		Port:      cfg.Relay.Port,
		JWTSecret: cfg.Relay.JWTSecret,
	}, logger)
	fmt.Printf("relay listening on %s:%d\n", cfg.Relay.Host, cfg.Relay.Port)
	return srv.ListenAndServe(ctx)
}

func runToken(cfg config.Config, userID, roleName string) error {
	role, err := identity.ParseRole(roleName)
	if err != nil {
		return err
	}
	if err := config.EnsureJWTSecret(config.DefaultPath(), &cfg); err != nil {
		return fmt.Errorf("persist relay secret: %w", err)
	}
	token, err := identity.IssueToken(cfg.Relay.JWTSecret, identity.Identity{UserID: userID, Role: role}, cfg.Relay.TokenTTL.Std())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// runSend connects with an admin session, emits one send-notification and
// disconnects.
func runSend(cfg config.Config, logger *slog.Logger, userID, kind, message string) error {
	token, id, err := sessionIdentity()
	if err != nil {
		return err
	}
	if !id.Role.IsAdmin() {
		return fmt.Errorf("send requires an admin session, have %s", id.Role)
	}

	r := router.New(logger)
	states := make(chan conn.StateChange, 16)
	r.On(events.ConnectionState, func(ev events.Event) error {
		var sc conn.StateChange
		if err := ev.Decode(&sc); err != nil {
			return err
		}
		select {
		case states <- sc:
		default:
		}
		return nil
	})

	// no toasts for a one-shot command
	m := newManager(cfg, r, nil, logger)
	if err := m.Connect(token, id); err != nil {
		return err
	}
	defer m.Disconnect()

	timeout := time.After(cfg.Reconnect.Delay.Std()*time.Duration(cfg.Reconnect.MaxAttempts+1) + 10*time.Second)
	for {
		select {
		case sc := <-states:
			switch sc.To {
			case conn.StateConnected:
				return m.Emit(events.SendNotification, events.OutgoingNotification{
					UserID:    userID,
					Message:   message,
					Type:      strings.ToUpper(kind),
					Timestamp: time.Now().UTC(),
				})
			case conn.StateFailed:
				return fmt.Errorf("could not connect to %s: %s", cfg.Server.URL, sc.Error)
			}
		case <-timeout:
			return errors.New("timed out waiting for connection")
		}
	}
}
