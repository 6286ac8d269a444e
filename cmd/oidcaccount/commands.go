package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaccounts/oidcaccount/account"
	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/oidc/callback"
)

const defaultStateExpiry = 10 * time.Minute

// clientConfig returns the configured client with its endpoints discovered.
func (a *app) clientConfig(ctx context.Context) (*oidc.Config, error) {
	cfg, err := a.cfg.oidcConfig()
	if err != nil {
		return nil, err
	}
	return a.client.Discover(ctx, cfg)
}

func newAuthURLCmd(a *app) *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print an authorization URL and the state to finish it with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.clientConfig(cmd.Context())
			if err != nil {
				return err
			}
			s, err := oidc.NewState(expiry)
			if err != nil {
				return err
			}
			u, err := oidc.AuthURL(cfg, s)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, u)
			fmt.Fprintf(out, "state: %s\nnonce: %s\n", s.ID(), s.Nonce())
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiry, "state-expiry", defaultStateExpiry, "how long the state stays valid")
	return cmd
}

func newFinishCmd(a *app) *cobra.Command {
	var (
		stateID, nonce, name string
		expiry               time.Duration
	)
	cmd := &cobra.Command{
		Use:   "finish REDIRECT_URL",
		Short: "Finish an authorization from the URL the provider redirected to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateID == "" || nonce == "" {
				return errors.New("--state and --nonce are required (see auth-url)")
			}
			cfg, err := a.clientConfig(cmd.Context())
			if err != nil {
				return err
			}
			s, err := oidc.NewState(expiry, oidc.WithStateID(stateID), oidc.WithNonce(nonce))
			if err != nil {
				return err
			}
			acct, err := a.manager.FinishAuthorization(cmd.Context(), cfg, s, args[0], account.WithAccountName(name))
			if errors.Is(err, oidc.ErrCancelled) {
				fmt.Fprintln(cmd.OutOrStdout(), "authorization cancelled")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "authorized account %q\n", acct.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&stateID, "state", "", "state printed by auth-url")
	cmd.Flags().StringVar(&nonce, "nonce", "", "nonce printed by auth-url")
	cmd.Flags().StringVar(&name, "name", "", "account name (default from the id_token)")
	cmd.Flags().DurationVar(&expiry, "state-expiry", defaultStateExpiry, "how long the state stays valid from now")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var (
		username, name string
		passwordStdin  bool
		browser        bool
		timeout        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize an account with the password grant or a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			cfg, err := a.clientConfig(ctx)
			if err != nil {
				return err
			}
			var acct *account.Account
			if browser {
				acct, err = a.browserLogin(ctx, cmd.OutOrStdout(), cfg, name)
			} else {
				acct, err = a.passwordLogin(ctx, cmd.InOrStdin(), cfg, username, passwordStdin, name)
			}
			if errors.Is(err, oidc.ErrCancelled) {
				fmt.Fprintln(cmd.OutOrStdout(), "authorization cancelled")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "authorized account %q\n", acct.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "resource owner username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of OIDCACCOUNT_PASSWORD")
	cmd.Flags().BoolVar(&browser, "browser", false, "use the authorization code flow with a loopback redirect")
	cmd.Flags().StringVar(&name, "name", "", "account name (default from the id_token)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the login to finish")
	return cmd
}

func (a *app) passwordLogin(ctx context.Context, in io.Reader, cfg *oidc.Config, username string, passwordStdin bool, name string) (*account.Account, error) {
	if username == "" {
		return nil, errors.New("--username is required")
	}
	password, _ := getEnvStr("PASSWORD")
	if passwordStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return nil, errors.New("no password: set OIDCACCOUNT_PASSWORD or use --password-stdin")
	}
	return a.manager.AuthorizeWithPassword(ctx, cfg, username, password, account.WithAccountName(name))
}

// browserLogin serves the redirect URL on its loopback address, prints the
// authorization URL and waits for the provider to redirect back.
func (a *app) browserLogin(ctx context.Context, out io.Writer, cfg *oidc.Config, name string) (*account.Account, error) {
	if cfg.Flow != oidc.CodeFlow {
		return nil, fmt.Errorf("--browser needs the %s flow, not %s", oidc.CodeFlow, cfg.Flow)
	}
	redirect, err := url.Parse(cfg.RedirectUrl)
	if err != nil {
		return nil, err
	}
	if redirect.Scheme != "http" || !isLoopback(redirect.Hostname()) {
		return nil, fmt.Errorf("--browser needs a http loopback redirect URL, got %q", cfg.RedirectUrl)
	}
	deadline, _ := ctx.Deadline()
	s, err := oidc.NewState(time.Until(deadline))
	if err != nil {
		return nil, err
	}
	authURL, err := oidc.AuthURL(cfg, s)
	if err != nil {
		return nil, err
	}

	var acct *account.Account
	finish := func(ctx context.Context, st oidc.State, u string) error {
		var err error
		acct, err = a.manager.FinishAuthorization(ctx, cfg, st, u, account.WithAccountName(name))
		return err
	}
	doneCh, h := callback.RedirectWithChannel(ctx, s, finish, callback.DefaultSuccess, callback.DefaultError)
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, h)

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "Open this URL in a browser to log in:\n\n  %s\n\n", authURL)
	select {
	case r := <-doneCh:
		if r.Err != nil {
			return nil, r.Err
		}
		return acct, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func newTokenCmd(a *app) *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "token ACCOUNT",
		Short: "Print a token of an account, refreshing it when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sl, err := oidc.ParseSlot(slot)
			if err != nil {
				return err
			}
			tk, err := a.manager.GetToken(cmd.Context(), args[0], sl)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tk)
			return nil
		},
	}
	cmd.Flags().StringVar(&slot, "slot", string(oidc.AccessTokenSlot), "token to print: id|access|refresh")
	return cmd
}

func newCallCmd(a *app) *cobra.Command {
	var (
		method, data, slot string
		headers            []string
	)
	cmd := &cobra.Command{
		Use:   "call ACCOUNT URL",
		Short: "Call an API with an account's token, renewing it once if rejected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sl, err := oidc.ParseSlot(slot)
			if err != nil {
				return err
			}
			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), method, args[1], body)
			if err != nil {
				return err
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q is not KEY: VALUE", h)
				}
				req.Header.Set(strings.TrimSpace(k), strings.TrimSpace(v))
			}
			c := a.manager.NewClient(args[0])
			c.Transport.(*account.Transport).Slot = sl
			resp, err := c.Do(req)
			if err != nil {
				return explain(err)
			}
			defer resp.Body.Close()
			fmt.Fprintln(cmd.ErrOrStderr(), resp.Status)
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header as KEY: VALUE")
	cmd.Flags().StringVar(&slot, "slot", string(oidc.AccessTokenSlot), "token to send: id|access")
	return cmd
}

func newAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := a.manager.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, acct := range accounts {
				fmt.Fprintln(cmd.OutOrStdout(), acct.Name)
			}
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout [ACCOUNT...]",
		Short: "Remove accounts and all their tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if all {
				accounts, err := a.manager.Accounts(cmd.Context())
				if err != nil {
					return err
				}
				names = nil
				for _, acct := range accounts {
					names = append(names, acct.Name)
				}
			}
			if len(names) == 0 {
				return errors.New("no account given (use --all to remove every account)")
			}
			return a.manager.Logout(cmd.Context(), names...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every account")
	return cmd
}

// explain adds what the user should do next to the errors that need them.
func explain(err error) error {
	var reauth *account.ReauthorizationRequiredError
	switch {
	case errors.As(err, &reauth):
		return fmt.Errorf("%w\nrun \"oidcaccount login\" to authorize %q again", err, reauth.Account.Name)
	case errors.Is(err, account.ErrStoreLocked):
		return fmt.Errorf("%w\nthe token store is locked", err)
	case errors.Is(err, account.ErrConfigurationMissing):
		return fmt.Errorf("%w\nno client configuration is stored for this account; log in again", err)
	default:
		return err
	}
}
