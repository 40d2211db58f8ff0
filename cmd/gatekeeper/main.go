package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/amirk1998/login-gatekeeper/internal/audit"
	"github.com/amirk1998/login-gatekeeper/internal/config"
	"github.com/amirk1998/login-gatekeeper/internal/httpapi"
	"github.com/amirk1998/login-gatekeeper/internal/logging"
	"github.com/amirk1998/login-gatekeeper/internal/models"
)

const usage = `usage: gatekeeper <command> [args]

commands:
  serve                       run the HTTP server (default)
  adduser <username>          create an account, password read from the terminal
  unlock <username>           clear failed attempts and any lock
  backup [create]             write an encrypted database backup
  backup verify <path>        check a backup's checksum and key
  audit [username]            show recent audit events
`

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Print(usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.New(os.Stderr, "gatekeeper", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initializeApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.cleanup()

	switch cmd {
	case "serve":
		return app.serve(ctx)
	case "adduser":
		if len(args) != 1 {
			return errors.New("adduser needs exactly one username")
		}
		return app.addUser(ctx, args[0])
	case "unlock":
		if len(args) != 1 {
			return errors.New("unlock needs exactly one username")
		}
		if err := app.authService.Unlock(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("account %s unlocked\n", args[0])
		return nil
	case "backup":
		return app.runBackup(ctx, args)
	case "audit":
		return app.showAudit(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (app *Application) serve(ctx context.Context) error {
	app.startWorkers(ctx)

	router := httpapi.NewRouter(app.authService, app.limiter, app.metrics, prometheus.DefaultGatherer,
		app.log.With("component", "http"),
		httpapi.Config{
			AllowedOrigins: app.config.CORSAllowedOrigins,
			TrustedProxies: app.config.TrustedProxies,
			SecureCookies:  app.config.IsProduction(),
			SessionTTL:     app.config.ChallengeTTL,
		})

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.log.Info(ctx, "http server listening", "addr", srv.Addr, "driver", app.config.DBDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (app *Application) addUser(ctx context.Context, username string) error {
	in := bufio.NewReader(os.Stdin)
	password, err := promptPassword(in, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword(in, "Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	account, err := app.authService.Register(ctx, &models.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	fmt.Printf("account %s created\n", account.Username)
	return nil
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptPassword(in *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := readPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (app *Application) runBackup(ctx context.Context, args []string) error {
	if app.backupMgr == nil {
		return errors.New("backups are disabled: set BACKUP_ENCRYPTION_KEY")
	}

	sub := "create"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "create":
		path, err := app.backupMgr.CreateBackup(ctx)
		if err != nil {
			return err
		}
		app.recordAudit(ctx, &audit.Event{Level: audit.LevelInfo, Action: audit.ActionBackup, Resource: path, Success: true})
		fmt.Println(path)
		return nil
	case "verify":
		if len(args) != 2 {
			return errors.New("backup verify needs a path")
		}
		if err := app.backupMgr.VerifyBackup(args[1]); err != nil {
			return err
		}
		fmt.Println("backup OK")
		return nil
	default:
		return fmt.Errorf("unknown backup command %q", sub)
	}
}

func (app *Application) recordAudit(ctx context.Context, event *audit.Event) {
	if err := app.auditLogger.Log(event); err != nil {
		app.log.Warn(ctx, "failed to write audit event", "action", event.Action, "error", err)
	}
}

func (app *Application) showAudit(ctx context.Context, args []string) error {
	filters := audit.QueryFilters{Limit: 50}
	if len(args) > 0 {
		filters.Username = args[0]
	}

	events, err := app.auditLogger.QueryLogs(ctx, filters)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tUSER\tACTION\tOK\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Level, e.Username, e.Action, e.Success, e.ErrorMsg)
	}
	return w.Flush()
}
