// Package modules installs and removes the validators, executors and fallback
// handlers of an account.
//
// Every mutating operation runs as one atomic unit of the shared store and
// follows the same order: update the registry first, then call the module's
// hook through the Executor. A module that calls back into the account from
// its hook already sees itself installed. If the hook fails the registry
// change is rolled back with it.
package modules

import (
	"context"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/events"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/metrics"
	"github.com/R3E-Network/modular_accounts/internal/sentinel"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

// Storage namespaces of the two module sets.
const (
	ValidatorNamespace = "modules.validators"
	ExecutorNamespace  = "modules.executors"
)

// Executor is the account's execution primitive. Every module hook goes
// through it; the manager never calls a module directly.
type Executor interface {
	Execute(ctx context.Context, onBehalfOf, target types.Address, value *big.Int, callData []byte) ([]byte, error)
}

// Manager owns the module registry of every account in one store.
type Manager struct {
	store      *state.Store
	validators *sentinel.List
	executors  *sentinel.List
	fallbacks  *fallback.Table
	exec       Executor

	requireValidator bool

	log     *logger.Logger
	metrics metrics.Recorder
	events  events.EventLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithEvents sets the event log.
func WithEvents(e events.EventLogger) Option {
	return func(m *Manager) { m.events = e }
}

// WithRequireValidator forbids uninstalling an account's last validator.
func WithRequireValidator(require bool) Option {
	return func(m *Manager) { m.requireValidator = require }
}

// NewManager creates a manager over store. exec may be nil at construction
// time when the executor itself needs the manager; set it with SetExecutor
// before the first install.
func NewManager(store *state.Store, exec Executor, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		validators: sentinel.New(store, ValidatorNamespace),
		executors:  sentinel.New(store, ExecutorNamespace),
		fallbacks:  fallback.NewTable(store),
		exec:       exec,
		log:        logger.NewDefault("modules"),
		metrics:    metrics.NoOpCollector{},
		events:     events.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetExecutor replaces the execution primitive.
func (m *Manager) SetExecutor(exec Executor) { m.exec = exec }

// Store returns the backing store.
func (m *Manager) Store() *state.Store { return m.store }

// Fallbacks returns the fallback table, shared with the dispatcher.
func (m *Manager) Fallbacks() *fallback.Table { return m.fallbacks }

// InitAccount creates the empty validator and executor sets of account.
func (m *Manager) InitAccount(ctx context.Context, account types.Address) error {
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		if err := m.validators.Init(ctx, account); err != nil {
			return err
		}
		return m.executors.Init(ctx, account)
	})
	if err != nil {
		m.log.WithContext(ctx).WithField("account", types.HexAddress(account)).WithError(err).Warn("account init failed")
		return err
	}
	events.NewEvent(events.EventAccountInitialized).
		Account(types.HexAddress(account)).
		LogToWithContext(ctx, m.events)
	m.log.WithContext(ctx).WithField("account", types.HexAddress(account)).Info("account initialized")
	return nil
}

// IsAccountInitialized reports whether InitAccount ran for account.
func (m *Manager) IsAccountInitialized(ctx context.Context, account types.Address) bool {
	return m.validators.IsInitialized(ctx, account) && m.executors.IsInitialized(ctx, account)
}

// InstallModule installs a module by ERC-7579 type id.
func (m *Manager) InstallModule(ctx context.Context, account types.Address, typ types.ModuleType, module types.Address, initData []byte) error {
	switch typ {
	case types.ModuleTypeValidator:
		return m.InstallValidator(ctx, account, module, initData)
	case types.ModuleTypeExecutor:
		return m.InstallExecutor(ctx, account, module, initData)
	case types.ModuleTypeFallback:
		return m.InstallFallback(ctx, account, module, initData)
	default:
		return fmt.Errorf("%w: %s", apperrors.ErrUnsupportedModuleType, typ)
	}
}

// UninstallModule removes a module by ERC-7579 type id.
func (m *Manager) UninstallModule(ctx context.Context, account types.Address, typ types.ModuleType, module types.Address, deInitData []byte) error {
	switch typ {
	case types.ModuleTypeValidator:
		return m.UninstallValidator(ctx, account, module, deInitData)
	case types.ModuleTypeExecutor:
		return m.UninstallExecutor(ctx, account, module, deInitData)
	case types.ModuleTypeFallback:
		return m.UninstallFallback(ctx, account, module, deInitData)
	default:
		return fmt.Errorf("%w: %s", apperrors.ErrUnsupportedModuleType, typ)
	}
}

// IsModuleInstalled checks a module by ERC-7579 type id. For fallbacks
// additionalContext is the ABI-encoded bytes4 selector.
func (m *Manager) IsModuleInstalled(ctx context.Context, account types.Address, typ types.ModuleType, module types.Address, additionalContext []byte) (bool, error) {
	switch typ {
	case types.ModuleTypeValidator:
		return m.IsValidatorInstalled(ctx, account, module), nil
	case types.ModuleTypeExecutor:
		return m.IsExecutorInstalled(ctx, account, module), nil
	case types.ModuleTypeFallback:
		return m.IsFallbackInstalledFor(ctx, account, module, additionalContext)
	default:
		return false, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedModuleType, typ)
	}
}

// change describes one lifecycle operation for run.
type change struct {
	typ     types.ModuleType
	op      string // install|uninstall
	account types.Address
	module  types.Address
	fields  map[string]interface{}
	mutate  func(ctx context.Context) error
	hook    []byte
}

// run applies c.mutate and then calls the module hook inside one unit.
func (m *Manager) run(ctx context.Context, c change) error {
	start := time.Now()
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		if err := c.mutate(ctx); err != nil {
			return err
		}
		if m.exec == nil {
			return fmt.Errorf("modules: no executor configured")
		}
		if _, err := m.exec.Execute(ctx, c.account, c.module, new(big.Int), c.hook); err != nil {
			return fmt.Errorf("%s %s hook: %w", c.typ, c.op, err)
		}
		return nil
	})
	m.observe(ctx, c, time.Since(start), err)
	return err
}

// fail records an operation rejected before its unit started.
func (m *Manager) fail(ctx context.Context, c change, err error) error {
	m.observe(ctx, c, 0, err)
	return err
}

func (m *Manager) observe(ctx context.Context, c change, elapsed time.Duration, err error) {
	m.metrics.RecordLifecycle(c.typ.String(), c.op, elapsed, err)

	typ := events.EventModuleInstalled
	switch {
	case c.op == "install" && err != nil:
		typ = events.EventModuleInstallFailed
	case c.op == "uninstall" && err != nil:
		typ = events.EventModuleUninstallFailed
	case c.op == "uninstall":
		typ = events.EventModuleUninstalled
	}
	b := events.NewEvent(typ).
		Account(types.HexAddress(c.account)).
		Module(types.HexAddress(c.module)).
		ModuleType(c.typ.String()).
		Duration(elapsed).
		ErrorFrom(err)
	for k, v := range c.fields {
		switch k {
		case "selector":
			b.Selector(fmt.Sprint(v))
		case "call_mode":
			b.CallMode(fmt.Sprint(v))
		default:
			b.Metadata(k, fmt.Sprint(v))
		}
	}
	b.LogToWithContext(ctx, m.events)

	fields := map[string]interface{}{
		"account":     types.HexAddress(c.account),
		"module":      types.HexAddress(c.module),
		"module_type": c.typ.String(),
	}
	for k, v := range c.fields {
		fields[k] = v
	}
	entry := m.log.WithContext(ctx).WithFields(fields)
	if err != nil {
		entry.WithError(err).Warnf("module %s failed", c.op)
		return
	}
	entry.Infof("module %sed", c.op)
}
