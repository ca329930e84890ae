package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
	"github.com/anirudhbiyani/aws-mcp/pkg/config"
	awsprovider "github.com/anirudhbiyani/aws-mcp/pkg/providers/aws"
	"github.com/anirudhbiyani/aws-mcp/pkg/tools"
)

// app is the wired core: accounts, tools, ledger, audit and dispatcher.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	accounts   *awsmcp.AccountSet
	dispatcher *awsmcp.Dispatcher
	closers    []io.Closer
}

// newLogger writes JSON logs to w; stdout stays free for the stdio protocol.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newApp(cfg *config.Config, logger *slog.Logger, provider *awsprovider.Provider) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	accounts, err := awsmcp.NewAccountSet(cfg.DefaultAccount, cfg.Bindings(),
		awsmcp.WithConfigLoader(provider),
		awsmcp.WithRoleAssumer(provider),
		awsmcp.WithClientFactory(provider),
		awsmcp.WithAccountLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a.accounts = accounts

	reg := awsmcp.NewToolRegistry()
	if err := tools.Register(reg); err != nil {
		return nil, err
	}

	ledger, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	audit, err := a.openAudit()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.dispatcher = awsmcp.NewDispatcher(accounts, reg,
		awsmcp.WithAuditLog(audit),
		awsmcp.WithLedger(ledger),
		awsmcp.WithAccessPolicy(cfg.AccessPolicy()),
		awsmcp.WithLogger(logger),
	)
	return a, nil
}

func (a *app) openLedger() (awsmcp.CostLedger, error) {
	if a.cfg.CostLedgerFile == "" {
		return awsmcp.NewMemoryLedger(), nil
	}
	ledger, err := awsmcp.NewFileLedger(a.cfg.CostLedgerFile)
	if err != nil {
		return nil, err
	}
	a.logger.Info("cost ledger opened", "path", a.cfg.CostLedgerFile)
	return ledger, nil
}

// openAudit returns nil when auditing is disabled; a nil *AuditLog records
// nothing.
func (a *app) openAudit() (*awsmcp.AuditLog, error) {
	if !a.cfg.EnableAuditLog {
		a.logger.Info("audit log disabled")
		return nil, nil
	}
	if a.cfg.AuditLogFile == "" {
		return awsmcp.NewAuditLog(a.logger, awsmcp.NewLogSink(a.logger)), nil
	}
	sink, err := awsmcp.NewFileSink(a.cfg.AuditLogFile)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, sink)
	return awsmcp.NewAuditLog(a.logger, sink), nil
}

// Close releases files opened by the app.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
