package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

// DefaultRefreshTimeout bounds a refresh shared by concurrent GetToken calls.
const DefaultRefreshTimeout = time.Minute

// Exchanger performs the network side of obtaining tokens. *oidc.Client
// implements it.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, cfg *oidc.Config, refreshToken oidc.RefreshToken) (*oidc.TokenSet, error)
	ExchangePasswordGrant(ctx context.Context, cfg *oidc.Config, username, password string) (*oidc.TokenSet, error)
	FinishAuthorization(ctx context.Context, cfg *oidc.Config, s oidc.State, redirectURL string) (*oidc.TokenSet, error)
}

var _ Exchanger = (*oidc.Client)(nil)

// Manager owns the relationship between accounts and their token sets. It is
// the only writer of the Store. Token reads are served from the store; a
// missing token is renewed with the account's refresh token, and concurrent
// renewals for one account are coalesced into a single exchange.
type Manager struct {
	store       store.Store
	exchanger   Exchanger
	logger      hclog.Logger
	accountType string
	defaultName string
	metrics     *metrics

	refreshTimeout time.Duration

	group singleflight.Group
	locks sync.Map // account name -> *sync.Mutex
}

// NewManager creates a Manager.
//
// Supported options: WithLogger, WithRegisterer, WithAccountType,
// WithDefaultAccountName, WithRefreshTimeout
func NewManager(st store.Store, ex Exchanger, opt ...Option) (*Manager, error) {
	const op = "account.NewManager"
	switch {
	case st == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case ex == nil:
		return nil, fmt.Errorf("%s: exchanger is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	m, err := newMetrics(opts.withRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
	}
	return &Manager{
		store:       st,
		exchanger:   ex,
		logger:      opts.withLogger,
		accountType: opts.withAccountType,
		defaultName: opts.withDefaultName,
		metrics:     m,

		refreshTimeout: opts.withRefreshTimeout,
	}, nil
}

// Accounts returns the accounts which hold any slot.
func (m *Manager) Accounts(ctx context.Context) ([]*Account, error) {
	const op = "Manager.Accounts"
	names, err := m.store.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	accounts := make([]*Account, 0, len(names))
	for _, n := range names {
		accounts = append(accounts, m.account(n))
	}
	return accounts, nil
}

// AccountByName returns the named account or ErrAccountNotFound.
func (m *Manager) AccountByName(ctx context.Context, name string) (*Account, error) {
	const op = "Manager.AccountByName"
	if name == "" {
		return nil, fmt.Errorf("%s: name is empty: %w", op, ErrInvalidParameter)
	}
	names, err := m.store.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, n := range names {
		if n == name {
			return m.account(n), nil
		}
	}
	return nil, fmt.Errorf("%s: %q: %w", op, name, ErrAccountNotFound)
}

// SaveTokens replaces the id, access and refresh slots of the account with
// the values of ts. Slots that ts leaves empty are cleared. The config given
// WithConfig scopes the slot names and is persisted alongside the tokens.
//
// Supported options: WithConfig
func (m *Manager) SaveTokens(ctx context.Context, name string, ts *oidc.TokenSet, opt ...Option) error {
	const op = "Manager.SaveTokens"
	if name == "" {
		return fmt.Errorf("%s: account name is empty: %w", op, ErrInvalidParameter)
	}
	if err := ts.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	opts := getCallOpts(opt...)
	mu := m.lock(name)
	mu.Lock()
	defer mu.Unlock()
	cfg, err := m.config(ctx, name, opts.withConfig)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.writeTokens(ctx, name, cfg, ts); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if opts.withConfig != nil {
		if err := m.writeConfig(ctx, name, opts.withConfig); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// SaveConfig persists cfg for the account so later refreshes can run without
// the caller supplying it.
func (m *Manager) SaveConfig(ctx context.Context, name string, cfg *oidc.Config) error {
	const op = "Manager.SaveConfig"
	switch {
	case name == "":
		return fmt.Errorf("%s: account name is empty: %w", op, ErrInvalidParameter)
	case cfg == nil:
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	mu := m.lock(name)
	mu.Lock()
	defer mu.Unlock()
	if err := m.writeConfig(ctx, name, cfg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LoadConfig returns the configuration persisted for the account, or
// ErrConfigurationMissing.
func (m *Manager) LoadConfig(ctx context.Context, name string) (*oidc.Config, error) {
	const op = "Manager.LoadConfig"
	if name == "" {
		return nil, fmt.Errorf("%s: account name is empty: %w", op, ErrInvalidParameter)
	}
	cfg, err := m.config(ctx, name, nil)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case cfg == nil:
		return nil, fmt.Errorf("%s: %w", op, ErrConfigurationMissing)
	}
	return cfg, nil
}

// GetToken returns the token held in slot for the account. A stored token
// is returned as is; expiry is detected by the API that rejects it (see
// HandleApiFailure). When the slot is empty the refresh token is exchanged,
// all slots are replaced and the requested slot is returned.
//
// A missing or rejected refresh token returns a
// *ReauthorizationRequiredError; a rejected one is also removed. A refresh
// without any configuration returns ErrConfigurationMissing and a locked
// store returns ErrStoreLocked. Other exchange failures are returned
// unchanged.
//
// Supported options: WithConfig
func (m *Manager) GetToken(ctx context.Context, name string, slot oidc.Slot, opt ...Option) (string, error) {
	const op = "Manager.GetToken"
	if name == "" {
		return "", fmt.Errorf("%s: account name is empty: %w", op, ErrInvalidParameter)
	}
	if _, err := oidc.ParseSlot(string(slot)); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := getCallOpts(opt...)
	tk, err := m.getToken(ctx, name, slot, opts)
	m.metrics.tokenRequests.WithLabelValues(result(tk, err)).Inc()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return tk.value, nil
}

type token struct {
	value     string
	refreshed bool
}

func result(tk token, err error) string {
	switch {
	case err == nil && tk.refreshed:
		return resultRefreshed
	case err == nil:
		return resultCached
	case errors.Is(err, ErrReauthorizationRequired):
		return resultReauthorize
	case errors.Is(err, ErrStoreLocked):
		return resultLocked
	default:
		return resultError
	}
}

func (m *Manager) getToken(ctx context.Context, name string, slot oidc.Slot, opts callOptions) (token, error) {
	cfg, err := m.config(ctx, name, opts.withConfig)
	if err != nil {
		return token{}, err
	}
	v, err := m.store.Get(ctx, name, oidc.SlotName(slot, clientId(cfg)))
	if err != nil {
		return token{}, err
	}
	if v != "" {
		return token{value: v}, nil
	}

	// one refresh per account and client at a time; callers for any slot
	// share it. It runs detached from ctx and each caller waits on its own.
	ch := m.group.DoChan(name+"\x00"+clientId(cfg), func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return nil, m.refresh(rctx, name, slot, cfg)
	})
	select {
	case <-ctx.Done():
		return token{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return token{}, r.Err
		}
	}
	v, err = m.store.Get(ctx, name, oidc.SlotName(slot, clientId(cfg)))
	switch {
	case err != nil:
		return token{}, err
	case v == "":
		return token{}, fmt.Errorf("no %s token after refresh: %w", slot, oidc.ErrInvalidResponse)
	}
	return token{value: v, refreshed: true}, nil
}

// refresh redeems the account's refresh token and replaces its slots. It
// returns nil without an exchange when slot was filled while waiting for the
// account lock.
func (m *Manager) refresh(ctx context.Context, name string, slot oidc.Slot, cfg *oidc.Config) error {
	mu := m.lock(name)
	mu.Lock()
	defer mu.Unlock()

	id := clientId(cfg)
	v, err := m.store.Get(ctx, name, oidc.SlotName(slot, id))
	if err != nil {
		return err
	}
	if v != "" {
		return nil
	}
	rt, err := m.store.Get(ctx, name, oidc.SlotName(oidc.RefreshTokenSlot, id))
	if err != nil {
		return err
	}
	if rt == "" {
		m.logger.Debug("no refresh token", "account", name, "slot", slot)
		return &ReauthorizationRequiredError{Account: m.account(name), Config: cfg}
	}
	if cfg == nil {
		return ErrConfigurationMissing
	}

	start := time.Now()
	ts, err := m.exchanger.ExchangeRefreshToken(ctx, cfg, oidc.RefreshToken(rt))
	m.metrics.refreshDuration.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, oidc.ErrRefreshRejected):
		m.logger.Info("refresh token rejected", "account", name)
		if perr := m.store.Put(ctx, name, oidc.SlotName(oidc.RefreshTokenSlot, id), ""); perr != nil {
			m.logger.Warn("unable to remove rejected refresh token", "account", name, "error", perr)
		}
		return &ReauthorizationRequiredError{Account: m.account(name), Config: cfg, Cause: err}
	case err != nil:
		m.logger.Error("refresh failed", "account", name, "error", err)
		return err
	}
	if err := m.writeTokens(ctx, name, cfg, ts); err != nil {
		return err
	}
	m.logger.Debug("refreshed tokens", "account", name)
	return nil
}

// HandleApiFailure decides whether an API call that failed with status and
// body should be retried with a renewed token. It returns true only when
// doRetry is set and the response says the token was rejected: 401, 403, or
// 400 with an invalid token marker in the body. Before returning true the
// account's id and access slots are cleared so the next GetToken refreshes.
//
// Callers pass doRetry true on the first failure of a logical call and false
// afterwards, which bounds every call to a single renewal.
//
// Supported options: WithConfig
func (m *Manager) HandleApiFailure(ctx context.Context, name string, status int, body string, doRetry bool, opt ...Option) (bool, error) {
	const op = "Manager.HandleApiFailure"
	if name == "" {
		return false, fmt.Errorf("%s: account name is empty: %w", op, ErrInvalidParameter)
	}
	if !doRetry || !TokenRejected(status, body) {
		return false, nil
	}
	if err := m.Invalidate(ctx, name, opt...); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	m.metrics.apiRetries.Inc()
	m.logger.Debug("token rejected by api, retrying", "account", name, "status", status)
	return true, nil
}

// Invalidate clears the id and access slots of the account. The refresh
// token is kept.
//
// Supported options: WithConfig
func (m *Manager) Invalidate(ctx context.Context, name string, opt ...Option) error {
	const op = "Manager.Invalidate"
	if name == "" {
		return fmt.Errorf("%s: account name is empty: %w", op, ErrInvalidParameter)
	}
	opts := getCallOpts(opt...)
	mu := m.lock(name)
	mu.Lock()
	defer mu.Unlock()
	cfg, err := m.config(ctx, name, opts.withConfig)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, s := range []oidc.Slot{oidc.IdTokenSlot, oidc.AccessTokenSlot} {
		if err := m.store.Put(ctx, name, oidc.SlotName(s, clientId(cfg)), ""); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// FinishAuthorization completes an interactive authorization from the
// redirect URL and stores the tokens under an account named from the
// id_token claims. A cancelled authorization returns oidc.ErrCancelled and
// changes nothing.
//
// Supported options: WithAccountName
func (m *Manager) FinishAuthorization(ctx context.Context, cfg *oidc.Config, s oidc.State, redirectURL string, opt ...Option) (*Account, error) {
	const op = "Manager.FinishAuthorization"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	ts, err := m.exchanger.FinishAuthorization(ctx, cfg, s, redirectURL)
	if err != nil {
		if errors.Is(err, oidc.ErrCancelled) {
			m.logger.Info("authorization cancelled", "client_id", cfg.ClientId)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a, err := m.create(ctx, cfg, ts, m.defaultName, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// AuthorizeWithPassword obtains tokens with the resource owner password
// grant and stores them. The credentials are never stored. Without identity
// claims the account is named after username.
//
// Supported options: WithAccountName
func (m *Manager) AuthorizeWithPassword(ctx context.Context, cfg *oidc.Config, username, password string, opt ...Option) (*Account, error) {
	const op = "Manager.AuthorizeWithPassword"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	ts, err := m.exchanger.ExchangePasswordGrant(ctx, cfg, username, password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a, err := m.create(ctx, cfg, ts, username, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func (m *Manager) create(ctx context.Context, cfg *oidc.Config, ts *oidc.TokenSet, fallback string, opt ...Option) (*Account, error) {
	opts := getCallOpts(opt...)
	name := opts.withAccountName
	if name == "" {
		name = accountName(ts, fallback)
	}
	if err := m.SaveTokens(ctx, name, ts, WithConfig(cfg)); err != nil {
		return nil, err
	}
	m.logger.Info("account authorized", "account", name, "client_id", cfg.ClientId)
	return m.account(name), nil
}

// Logout removes every slot of the named accounts. All accounts are
// attempted; the errors are returned together.
func (m *Manager) Logout(ctx context.Context, names ...string) error {
	const op = "Manager.Logout"
	var result *multierror.Error
	for _, n := range names {
		if n == "" {
			result = multierror.Append(result, fmt.Errorf("account name is empty: %w", ErrInvalidParameter))
			continue
		}
		if err := m.logout(ctx, n); err != nil {
			result = multierror.Append(result, fmt.Errorf("%q: %w", n, err))
			continue
		}
		m.logger.Info("logged out", "account", n)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Manager) logout(ctx context.Context, name string) error {
	mu := m.lock(name)
	mu.Lock()
	defer mu.Unlock()
	return m.store.Remove(ctx, name)
}

// config returns cfg when set, otherwise the persisted configuration, which
// may be nil.
func (m *Manager) config(ctx context.Context, name string, cfg *oidc.Config) (*oidc.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	raw, err := m.store.Get(ctx, name, configSlot)
	if err != nil || raw == "" {
		return nil, err
	}
	cfg, err = unmarshalConfig([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("unable to read persisted config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) writeConfig(ctx context.Context, name string, cfg *oidc.Config) error {
	b, err := marshalConfig(cfg)
	if err != nil {
		return fmt.Errorf("unable to encode config: %w", err)
	}
	return m.store.Put(ctx, name, configSlot, string(b))
}

// writeTokens must be called with the account lock held.
func (m *Manager) writeTokens(ctx context.Context, name string, cfg *oidc.Config, ts *oidc.TokenSet) error {
	for _, s := range oidc.TokenSlots {
		if err := m.store.Put(ctx, name, oidc.SlotName(s, clientId(cfg)), ts.Token(s)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) lock(name string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (m *Manager) account(name string) *Account {
	return &Account{Name: name, Type: m.accountType}
}

func clientId(cfg *oidc.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.ClientId
}

type managerOptions struct {
	withLogger         hclog.Logger
	withRegisterer     prometheus.Registerer
	withAccountType    string
	withDefaultName    string
	withRefreshTimeout time.Duration
}

func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:         hclog.NewNullLogger(),
		withAccountType:    DefaultAccountType,
		withDefaultName:    DefaultAccountName,
		withRefreshTimeout: DefaultRefreshTimeout,
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
