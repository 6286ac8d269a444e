package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

func TestNewManager(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	_, err := NewManager(nil, &testExchanger{})
	assert.ErrorIs(err, ErrNilParameter)
	_, err = NewManager(testStore(t), nil)
	assert.ErrorIs(err, ErrNilParameter)

	m, err := NewManager(testStore(t), &testExchanger{}, WithAccountType("com.example"), nil)
	require.NoError(t, err)
	assert.Equal("com.example", m.accountType)
	assert.Equal(DefaultAccountName, m.defaultName)
}

func TestManager_SaveTokens(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	st := testStore(t)
	m := testManager(t, st, &testExchanger{})
	cfg := testConfig(t)

	ts := &oidc.TokenSet{IdToken: "IDT1", AccessToken: "AT1", RefreshToken: "RT1"}
	require.NoError(m.SaveTokens(ctx, "alice", ts, WithConfig(cfg)))

	for _, slot := range oidc.TokenSlots {
		got, err := m.GetToken(ctx, "alice", slot, WithConfig(cfg))
		require.NoError(err)
		assert.Equal(ts.Token(slot), got, "slot %s", slot)

		raw, err := st.Get(ctx, "alice", oidc.SlotName(slot, "c1"))
		require.NoError(err)
		assert.Equal(ts.Token(slot), raw, "slot names are scoped to the client id")
	}

	// the persisted config is used when none is given
	got, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.NoError(err)
	assert.Equal("AT1", got)

	// a save replaces every slot
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{AccessToken: "AT2"}))
	got, err = st.Get(ctx, "alice", oidc.SlotName(oidc.IdTokenSlot, "c1"))
	require.NoError(err)
	assert.Empty(got)
	got, err = st.Get(ctx, "alice", oidc.SlotName(oidc.RefreshTokenSlot, "c1"))
	require.NoError(err)
	assert.Empty(got)

	assert.ErrorIs(m.SaveTokens(ctx, "alice", &oidc.TokenSet{RefreshToken: "RT"}), oidc.ErrInvalidResponse)
	assert.ErrorIs(m.SaveTokens(ctx, "alice", nil), oidc.ErrNilParameter)
	assert.ErrorIs(m.SaveTokens(ctx, "", ts), ErrInvalidParameter)
}

func TestManager_GetToken_Cached(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	ex := &testExchanger{}
	m := testManager(t, testStore(t), ex)
	cfg := testConfig(t)
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{AccessToken: "AT1", RefreshToken: "RT1"}, WithConfig(cfg)))

	for i := 0; i < 2; i++ {
		got, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
		require.NoError(err)
		assert.Equal("AT1", got)
	}
	assert.Equal(0, ex.calls())
}

func TestManager_GetToken_Refresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	st := testStore(t)
	ex := &testExchanger{
		refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
			return &oidc.TokenSet{IdToken: "IDT2", AccessToken: "AT2", RefreshToken: "RT2"}, nil
		},
	}
	m := testManager(t, st, ex)
	cfg := testConfig(t)
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"}, WithConfig(cfg)))

	got, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.NoError(err)
	assert.Equal("AT2", got)
	assert.Equal(1, ex.calls())
	assert.Equal(oidc.RefreshToken("RT1"), ex.lastRefresh)

	want := map[oidc.Slot]string{oidc.IdTokenSlot: "IDT2", oidc.AccessTokenSlot: "AT2", oidc.RefreshTokenSlot: "RT2"}
	for slot, v := range want {
		raw, err := st.Get(ctx, "alice", oidc.SlotName(slot, "c1"))
		require.NoError(err)
		assert.Equal(v, raw, "slot %s", slot)
	}

	got, err = m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.NoError(err)
	assert.Equal("AT2", got)
	assert.Equal(1, ex.calls())
}

func TestManager_GetToken_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rejected := &oidc.TokenError{StatusCode: 400, ErrorCode: "invalid_grant", Kind: oidc.ErrRefreshRejected}

	tests := []struct {
		name         string
		saved        *oidc.TokenSet
		saveConfig   bool
		refresh      func(oidc.RefreshToken) (*oidc.TokenSet, error)
		slot         oidc.Slot
		account      string
		wantIsErr    error
		wantReauth   bool
		wantConfig   bool
		wantCalls    int
		wantUnchange bool
		wantRTGone   bool
	}{
		{
			name:       "no-refresh-token",
			saved:      &oidc.TokenSet{IdToken: "IDT1"},
			saveConfig: true,
			slot:       oidc.AccessTokenSlot,
			wantIsErr:  ErrReauthorizationRequired,
			wantReauth: true,
			wantConfig: true,
		},
		{
			name:       "no-refresh-token-no-config",
			saved:      &oidc.TokenSet{IdToken: "IDT1"},
			slot:       oidc.AccessTokenSlot,
			wantIsErr:  ErrReauthorizationRequired,
			wantReauth: true,
		},
		{
			name:       "unknown-account",
			account:    "nobody",
			slot:       oidc.IdTokenSlot,
			wantIsErr:  ErrReauthorizationRequired,
			wantReauth: true,
		},
		{
			name:       "refresh-rejected",
			saved:      &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"},
			saveConfig: true,
			refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
				return nil, fmt.Errorf("exchange: %w", rejected)
			},
			slot:         oidc.AccessTokenSlot,
			wantIsErr:    oidc.ErrRefreshRejected,
			wantReauth:   true,
			wantConfig:   true,
			wantCalls:    1,
			wantUnchange: true,
			wantRTGone:   true,
		},
		{
			name:       "network-failure",
			saved:      &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"},
			saveConfig: true,
			refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
				return nil, fmt.Errorf("exchange: %w", oidc.ErrNetworkFailure)
			},
			slot:         oidc.AccessTokenSlot,
			wantIsErr:    oidc.ErrNetworkFailure,
			wantCalls:    1,
			wantUnchange: true,
		},
		{
			name:         "configuration-missing",
			saved:        &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"},
			slot:         oidc.AccessTokenSlot,
			wantIsErr:    ErrConfigurationMissing,
			wantUnchange: true,
		},
		{
			name:       "slot-empty-after-refresh",
			saved:      &oidc.TokenSet{AccessToken: "AT1", RefreshToken: "RT1"},
			saveConfig: true,
			refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
				return &oidc.TokenSet{AccessToken: "AT2", RefreshToken: "RT1"}, nil
			},
			slot:      oidc.IdTokenSlot,
			wantIsErr: oidc.ErrInvalidResponse,
			wantCalls: 1,
		},
		{
			name:      "bad-slot",
			slot:      oidc.Slot("config"),
			account:   "alice",
			wantIsErr: oidc.ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			st := testStore(t)
			ex := &testExchanger{refresh: tt.refresh}
			m := testManager(t, st, ex)
			cfg := testConfig(t)
			name := tt.account
			if name == "" {
				name = "alice"
			}
			if tt.saved != nil {
				var opts []Option
				if tt.saveConfig {
					opts = append(opts, WithConfig(cfg))
				}
				require.NoError(m.SaveTokens(ctx, name, tt.saved, opts...))
			}

			_, err := m.GetToken(ctx, name, tt.slot)
			require.Error(err)
			assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
			assert.Equal(tt.wantCalls, ex.calls())

			var reauth *ReauthorizationRequiredError
			assert.Equal(tt.wantReauth, errors.As(err, &reauth))
			if tt.wantReauth {
				assert.Equal(name, reauth.Account.Name)
				assert.Equal(DefaultAccountType, reauth.Account.Type)
				if tt.wantConfig {
					require.NotNil(reauth.Config)
					assert.Equal("c1", reauth.Config.ClientId)
					assert.Equal(oidc.ClientSecret("s1"), reauth.Config.ClientSecret)
				} else {
					assert.Nil(reauth.Config)
				}
			}
			if tt.wantUnchange {
				clientId := ""
				if tt.saveConfig {
					clientId = "c1"
				}
				for _, slot := range oidc.TokenSlots {
					raw, err := st.Get(ctx, name, oidc.SlotName(slot, clientId))
					require.NoError(err)
					want := tt.saved.Token(slot)
					if tt.wantRTGone && slot == oidc.RefreshTokenSlot {
						want = ""
					}
					assert.Equal(want, raw, "slot %s", slot)
				}
			}
		})
	}

	t.Run("rejected-refresh-token-not-reused", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		ex := &testExchanger{refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
			return nil, fmt.Errorf("exchange: %w", rejected)
		}}
		m := testManager(t, testStore(t), ex)
		require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"}, WithConfig(testConfig(t))))

		_, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
		assert.ErrorIs(err, oidc.ErrRefreshRejected)
		_, err = m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
		assert.ErrorIs(err, ErrReauthorizationRequired)
		assert.False(errors.Is(err, oidc.ErrRefreshRejected))
		assert.Equal(1, ex.calls())
	})

	t.Run("empty-name", func(t *testing.T) {
		t.Parallel()
		m := testManager(t, testStore(t), &testExchanger{})
		_, err := m.GetToken(ctx, "", oidc.AccessTokenSlot)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestManager_GetToken_Locked(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	st := testStore(t, store.WithUserPresence(0))
	ex := &testExchanger{}
	m := testManager(t, st, ex)

	st.Keyring().Unlock()
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{AccessToken: "AT1", RefreshToken: "RT1"}, WithConfig(testConfig(t))))
	st.Keyring().Lock()

	_, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.Error(err)
	assert.ErrorIs(err, ErrStoreLocked)
	assert.False(errors.Is(err, ErrReauthorizationRequired), "a locked store is not an absent token")
	assert.Equal(0, ex.calls())

	st.Keyring().Unlock()
	got, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.NoError(err)
	assert.Equal("AT1", got)
}

func TestManager_GetToken_ConcurrentRefresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	ex := &testExchanger{
		release: make(chan struct{}),
		refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
			return &oidc.TokenSet{IdToken: "IDT2", AccessToken: "AT2", RefreshToken: "RT2"}, nil
		},
	}
	m := testManager(t, testStore(t), ex)
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"}, WithConfig(testConfig(t))))
	require.NoError(m.Invalidate(ctx, "alice"))

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot := oidc.AccessTokenSlot
			if i%2 == 0 {
				slot = oidc.IdTokenSlot
			}
			results[i], errs[i] = m.GetToken(ctx, "alice", slot)
		}()
	}
	close(ex.release)
	wg.Wait()

	assert.Equal(1, ex.calls())
	for i := 0; i < callers; i++ {
		require.NoError(errs[i])
		want := "AT2"
		if i%2 == 0 {
			want = "IDT2"
		}
		assert.Equal(want, results[i])
	}
}

func TestManager_GetToken_CancelledCaller(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	ex := &testExchanger{
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
		refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
			return &oidc.TokenSet{IdToken: "IDT2", AccessToken: "AT2", RefreshToken: "RT2"}, nil
		},
	}
	m := testManager(t, testStore(t), ex)
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"}, WithConfig(testConfig(t))))
	require.NoError(m.Invalidate(ctx, "alice"))

	firstCtx, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetToken(firstCtx, "alice", oidc.AccessTokenSlot)
		firstErr <- err
	}()
	<-ex.started

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		tk, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
		second <- result{tk, err}
	}()
	// let the second caller join the refresh in flight
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(<-firstErr, context.Canceled)
	close(ex.release)

	r := <-second
	require.NoError(r.err)
	assert.Equal("AT2", r.token)
	assert.Equal(1, ex.calls())

	// the refresh finished for the cancelled caller too
	got, err := m.GetToken(ctx, "alice", oidc.IdTokenSlot)
	require.NoError(err)
	assert.Equal("IDT2", got)
}

func TestManager_GetToken_RefreshPerClient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	ex := &testExchanger{
		release: make(chan struct{}),
		started: make(chan struct{}, 2),
		refresh: func(rt oidc.RefreshToken) (*oidc.TokenSet, error) {
			return &oidc.TokenSet{AccessToken: oidc.AccessToken("AT-" + string(rt)), RefreshToken: rt}, nil
		},
	}
	m := testManager(t, testStore(t), ex)
	c1, c2 := testClientConfig(t, "c1"), testClientConfig(t, "c2")
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{IdToken: "IDT1", RefreshToken: "RT1"}, WithConfig(c1)))
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{IdToken: "IDT2", RefreshToken: "RT2"}, WithConfig(c2)))

	var wg sync.WaitGroup
	got := map[string]string{}
	errs := map[string]error{}
	var mu sync.Mutex
	for _, cfg := range []*oidc.Config{c1, c2} {
		cfg := cfg
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot, WithConfig(cfg))
			mu.Lock()
			defer mu.Unlock()
			got[cfg.ClientId], errs[cfg.ClientId] = tk, err
		}()
	}
	<-ex.started
	time.Sleep(50 * time.Millisecond)
	close(ex.release)
	wg.Wait()

	require.NoError(errs["c1"])
	require.NoError(errs["c2"])
	assert.Equal("AT-RT1", got["c1"])
	assert.Equal("AT-RT2", got["c2"])
	assert.Equal(2, ex.calls())
}

func TestManager_HandleApiFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name      string
		status    int
		body      string
		doRetry   bool
		want      bool
		wantClear bool
	}{
		{name: "401", status: 401, doRetry: true, want: true, wantClear: true},
		{name: "403", status: 403, doRetry: true, want: true, wantClear: true},
		{name: "400-invalid-grant", status: 400, body: `{"error":"invalid_grant"}`, doRetry: true, want: true, wantClear: true},
		{name: "400-invalid-token", status: 400, body: `{"error":"invalid_token"}`, doRetry: true, want: true, wantClear: true},
		{name: "400-not-valid", status: 400, body: `Access Token not valid`, doRetry: true, want: true, wantClear: true},
		{name: "400-other", status: 400, body: `{"error":"bad_request"}`, doRetry: true},
		{name: "500", status: 500, doRetry: true},
		{name: "200", status: 200, doRetry: true},
		{name: "401-budget-spent", status: 401, doRetry: false},
		{name: "400-budget-spent", status: 400, body: "invalid_grant", doRetry: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			st := testStore(t)
			m := testManager(t, st, &testExchanger{})
			saved := &oidc.TokenSet{IdToken: "IDT1", AccessToken: "AT1", RefreshToken: "RT1"}
			require.NoError(m.SaveTokens(ctx, "alice", saved, WithConfig(testConfig(t))))

			got, err := m.HandleApiFailure(ctx, "alice", tt.status, tt.body, tt.doRetry)
			require.NoError(err)
			assert.Equal(tt.want, got)

			for _, slot := range oidc.TokenSlots {
				raw, err := st.Get(ctx, "alice", oidc.SlotName(slot, "c1"))
				require.NoError(err)
				if tt.wantClear && slot != oidc.RefreshTokenSlot {
					assert.Empty(raw, "slot %s", slot)
					continue
				}
				assert.Equal(saved.Token(slot), raw, "slot %s", slot)
			}
		})
	}
}

func TestManager_HandleApiFailure_SecondAttempt(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	m := testManager(t, testStore(t), &testExchanger{})
	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{AccessToken: "AT1", RefreshToken: "RT1"}, WithConfig(testConfig(t))))

	retry, err := m.HandleApiFailure(ctx, "alice", 401, "", true)
	require.NoError(err)
	assert.True(retry)
	retry, err = m.HandleApiFailure(ctx, "alice", 401, "", false)
	require.NoError(err)
	assert.False(retry)

	_, err = m.HandleApiFailure(ctx, "", 401, "", true)
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestTokenRejected(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.True(TokenRejected(401, ""))
	assert.True(TokenRejected(403, "forbidden"))
	assert.True(TokenRejected(400, `{"error":"invalid_grant"}`))
	assert.False(TokenRejected(400, ""))
	assert.False(TokenRejected(404, "invalid_token"))
	assert.False(TokenRejected(500, "invalid_grant"))
}

func TestManager_Config(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	m := testManager(t, testStore(t), &testExchanger{})

	_, err := m.LoadConfig(ctx, "alice")
	assert.ErrorIs(err, ErrConfigurationMissing)

	cfg, err := oidc.NewConfig("c1", "s1", "app://cb", oidc.HybridFlow,
		oidc.WithScopes("openid", "offline_access"),
		oidc.WithRealm("staff"),
		oidc.WithIssuer("https://provider.example.com"),
		oidc.WithUILocales(language.French, language.MustParse("en-GB")),
	)
	require.NoError(err)
	require.NoError(m.SaveConfig(ctx, "alice", cfg))

	got, err := m.LoadConfig(ctx, "alice")
	require.NoError(err)
	require.Len(got.UILocales, 2)
	assert.Equal("fr", got.UILocales[0].String())
	assert.Equal("en-GB", got.UILocales[1].String())
	got.UILocales, cfg.UILocales = nil, nil
	assert.Equal(cfg, got)
	assert.Equal(oidc.ClientSecret("s1"), got.ClientSecret, "the secret survives persistence")

	assert.ErrorIs(m.SaveConfig(ctx, "alice", nil), ErrNilParameter)
	assert.ErrorIs(m.SaveConfig(ctx, "", cfg), ErrInvalidParameter)
	_, err = m.LoadConfig(ctx, "")
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestManager_Accounts(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	m := testManager(t, testStore(t), &testExchanger{})

	accounts, err := m.Accounts(ctx)
	require.NoError(err)
	assert.Empty(accounts)

	for _, n := range []string{"bob", "alice"} {
		require.NoError(m.SaveTokens(ctx, n, &oidc.TokenSet{AccessToken: "AT"}))
	}
	accounts, err = m.Accounts(ctx)
	require.NoError(err)
	assert.Equal([]*Account{{Name: "alice", Type: DefaultAccountType}, {Name: "bob", Type: DefaultAccountType}}, accounts)

	a, err := m.AccountByName(ctx, "bob")
	require.NoError(err)
	assert.Equal("bob", a.Name)
	_, err = m.AccountByName(ctx, "carol")
	assert.ErrorIs(err, ErrAccountNotFound)
	_, err = m.AccountByName(ctx, "")
	assert.ErrorIs(err, ErrInvalidParameter)

	require.NoError(m.Logout(ctx, "alice"))
	_, err = m.AccountByName(ctx, "alice")
	assert.ErrorIs(err, ErrAccountNotFound)
	_, err = m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	assert.ErrorIs(err, ErrReauthorizationRequired)

	err = m.Logout(ctx, "", "bob", "")
	require.Error(err)
	assert.ErrorIs(err, ErrInvalidParameter)
	assert.Contains(err.Error(), "2 errors occurred")
	accounts, err = m.Accounts(ctx)
	require.NoError(err)
	assert.Empty(accounts, "valid names are logged out even when others fail")
}

func TestManager_FinishAuthorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := oidc.NewState(time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name      string
		finish    func(oidc.State, string) (*oidc.TokenSet, error)
		opt       []Option
		wantName  string
		wantIsErr error
	}{
		{
			name: "given-name-and-sub",
			finish: func(oidc.State, string) (*oidc.TokenSet, error) {
				return &oidc.TokenSet{IdToken: testIdToken(t, "alice@example.com", "Alice"), AccessToken: "AT", RefreshToken: "RT"}, nil
			},
			wantName: "Alice (alice@example.com)",
		},
		{
			name: "sub-only",
			finish: func(oidc.State, string) (*oidc.TokenSet, error) {
				return &oidc.TokenSet{IdToken: testIdToken(t, "alice@example.com", ""), AccessToken: "AT"}, nil
			},
			wantName: "alice@example.com",
		},
		{
			name: "no-id-token",
			finish: func(oidc.State, string) (*oidc.TokenSet, error) {
				return &oidc.TokenSet{AccessToken: "AT"}, nil
			},
			wantName: DefaultAccountName,
		},
		{
			name: "name-override",
			finish: func(oidc.State, string) (*oidc.TokenSet, error) {
				return &oidc.TokenSet{IdToken: testIdToken(t, "alice@example.com", "Alice"), AccessToken: "AT"}, nil
			},
			opt:      []Option{WithAccountName("work")},
			wantName: "work",
		},
		{
			name: "cancelled",
			finish: func(oidc.State, string) (*oidc.TokenSet, error) {
				return nil, fmt.Errorf("finish: %w", oidc.ErrCancelled)
			},
			wantIsErr: oidc.ErrCancelled,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			m := testManager(t, testStore(t), &testExchanger{finish: tt.finish})
			cfg := testConfig(t)

			a, err := m.FinishAuthorization(ctx, cfg, s, "app://cb?code=x&state="+s.ID(), tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				accounts, err := m.Accounts(ctx)
				require.NoError(err)
				assert.Empty(accounts, "nothing is stored on failure")
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantName, a.Name)

			got, err := m.GetToken(ctx, a.Name, oidc.AccessTokenSlot)
			require.NoError(err)
			assert.Equal("AT", got)
			persisted, err := m.LoadConfig(ctx, a.Name)
			require.NoError(err)
			assert.Equal(cfg.ClientId, persisted.ClientId)
		})
	}

	_, err = testManager(t, testStore(t), &testExchanger{}).FinishAuthorization(ctx, nil, s, "")
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestManager_AuthorizeWithPassword(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	ex := &testExchanger{
		password: func(username, password string) (*oidc.TokenSet, error) {
			if password != "hunter2" {
				return nil, &oidc.TokenError{StatusCode: 400, ErrorCode: "invalid_grant", Kind: oidc.ErrNetworkFailure}
			}
			return &oidc.TokenSet{AccessToken: "AT", RefreshToken: "RT"}, nil
		},
	}
	m := testManager(t, testStore(t), ex)
	cfg := testConfig(t)

	a, err := m.AuthorizeWithPassword(ctx, cfg, "alice", "hunter2")
	require.NoError(err)
	assert.Equal("alice", a.Name)

	_, err = m.AuthorizeWithPassword(ctx, cfg, "bob", "wrong")
	require.Error(err)
	var tokenErr *oidc.TokenError
	require.True(errors.As(err, &tokenErr))
	assert.Equal("invalid_grant", tokenErr.ErrorCode)
	_, err = m.AccountByName(ctx, "bob")
	assert.ErrorIs(err, ErrAccountNotFound)

	_, err = m.AuthorizeWithPassword(ctx, nil, "alice", "hunter2")
	assert.ErrorIs(err, ErrNilParameter)
}

func TestManager_Metrics(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	ex := &testExchanger{
		refresh: func(oidc.RefreshToken) (*oidc.TokenSet, error) {
			return &oidc.TokenSet{AccessToken: "AT2", RefreshToken: "RT2"}, nil
		},
	}
	m := testManager(t, testStore(t), ex, WithRegisterer(reg))
	// a second manager on the same registry shares the collectors
	other := testManager(t, testStore(t), ex, WithRegisterer(reg))

	require.NoError(m.SaveTokens(ctx, "alice", &oidc.TokenSet{AccessToken: "AT1", RefreshToken: "RT1"}, WithConfig(testConfig(t))))
	_, err := m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.NoError(err)
	_, err = m.HandleApiFailure(ctx, "alice", 401, "", true)
	require.NoError(err)
	_, err = m.GetToken(ctx, "alice", oidc.AccessTokenSlot)
	require.NoError(err)
	_, err = other.GetToken(ctx, "bob", oidc.AccessTokenSlot)
	require.Error(err)

	assert.Equal(1.0, testutil.ToFloat64(m.metrics.tokenRequests.WithLabelValues(resultCached)))
	assert.Equal(1.0, testutil.ToFloat64(m.metrics.tokenRequests.WithLabelValues(resultRefreshed)))
	assert.Equal(1.0, testutil.ToFloat64(m.metrics.tokenRequests.WithLabelValues(resultReauthorize)))
	assert.Equal(1.0, testutil.ToFloat64(m.metrics.apiRetries))
	assert.Equal(1, testutil.CollectAndCount(m.metrics.refreshDuration))
}
