// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// rp-demo is a small web application protected by an OIDC relying party.  It's
// configured from the environment:
//
//	OIDC_ISSUER, OIDC_CLIENT_ID and OIDC_CLIENT_SECRET are required.
//	OIDC_REDIRECT_URL defaults to http://localhost:8080/oidc/authorized.
//	OIDC_SCOPES is a semicolon separated list of scopes.
//	RP_ALLOWED_NEXT_HOSTS lists the hosts a next URL may redirect to.
//	REDIS_ADDR stores sessions in Redis rather than in memory.
//
// See config for the rest.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/cap-rp/rp"
	"github.com/hashicorp/cap-rp/session"
	"github.com/hashicorp/cap-rp/session/redisstore"
	"github.com/hashicorp/go-hclog"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

type config struct {
	Issuer       string        `env:"OIDC_ISSUER,required"`
	ClientID     string        `env:"OIDC_CLIENT_ID,required"`
	ClientSecret string        `env:"OIDC_CLIENT_SECRET,required"`
	RedirectURL  string        `env:"OIDC_REDIRECT_URL,default=http://localhost:8080/oidc/authorized"`
	Scopes       []string      `env:"OIDC_SCOPES"`
	UserAttr     string        `env:"OIDC_USER_ATTR,default=email"`
	ProviderCA   string        `env:"OIDC_PROVIDER_CA_FILE"`
	Timeout      time.Duration `env:"OIDC_TIMEOUT,default=4s"`
	StateTTL     time.Duration `env:"OIDC_STATE_TTL,default=60s"`
	LogoutIdP    bool          `env:"OIDC_LOGOUT_IDP,default=false"`

	Addr         string        `env:"RP_ADDR,default=:8080"`
	StateKey     string        `env:"RP_STATE_KEY"`
	SessionTTL   time.Duration `env:"RP_SESSION_TTL,default=24h"`
	SecureCookie bool          `env:"RP_SECURE_COOKIE,default=false"`
	AdminAttr    string        `env:"RP_ADMIN_ATTR,default=groups"`
	AdminValues  []string      `env:"RP_ADMIN_VALUES,default=admin"`
	NextHosts    []string      `env:"RP_ALLOWED_NEXT_HOSTS"`
	LogLevel     string        `env:"RP_LOG_LEVEL,default=info"`

	RedisAddr      string `env:"REDIS_ADDR"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=cap-rp:session:"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("unable to read configuration: %w", err)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "rp-demo",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Done()

	a, err := rp.New(p, rp.WithAllowedNextHosts(cfg.NextHosts...))
	if err != nil {
		return err
	}
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := newRouter(cfg, a, store, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "callback", a.CallbackPath())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func newProvider(cfg config, logger hclog.Logger) (*oidc.Provider, error) {
	opts := []oidc.Option{
		oidc.WithUserAttr(cfg.UserAttr),
		oidc.WithTimeout(cfg.Timeout),
		oidc.WithStateTTL(cfg.StateTTL),
		oidc.WithLogger(logger),
	}
	if len(cfg.Scopes) > 0 {
		opts = append(opts, oidc.WithScopes(cfg.Scopes...))
	}
	if cfg.ProviderCA != "" {
		pem, err := os.ReadFile(cfg.ProviderCA)
		if err != nil {
			return nil, fmt.Errorf("unable to read provider CA: %w", err)
		}
		opts = append(opts, oidc.WithProviderCA(string(pem)))
	}
	if cfg.StateKey != "" {
		opts = append(opts, oidc.WithStateKey([]byte(cfg.StateKey)))
	}
	if cfg.LogoutIdP {
		opts = append(opts, oidc.WithLogoutIdP())
	}
	c, err := oidc.NewConfig(cfg.Issuer, cfg.ClientID, oidc.ClientSecret(cfg.ClientSecret), cfg.RedirectURL, opts...)
	if err != nil {
		return nil, err
	}
	return oidc.NewProvider(c)
}

func newStore(ctx context.Context, cfg config, logger hclog.Logger) (session.Store, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("sessions are stored in memory and won't survive a restart")
		return session.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	store, err := redisstore.New(redisstore.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func newRouter(cfg config, a *rp.Authenticator, store session.Store, logger hclog.Logger) (http.Handler, error) {
	m, err := session.NewManager(store,
		session.WithTTL(cfg.SessionTTL),
		session.WithSecureCookie(cfg.SecureCookie),
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	callback, err := a.CallbackHandler()
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.Handle("/login", a.LoginHandler()).Methods(http.MethodGet)
	r.Handle(a.CallbackPath(), callback).Methods(http.MethodGet)
	r.Handle("/logout", a.LogoutHandler()).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/token", rp.Chain(tokenHandler(a), a.RequireLogin)).Methods(http.MethodGet)
	r.Handle("/admin", rp.Chain(homeHandler(a, "admin"),
		a.RequireLogin,
		a.RequireAttribute(cfg.AdminAttr, cfg.AdminValues...),
	)).Methods(http.MethodGet)
	r.Handle("/", rp.Chain(homeHandler(a, "home"), a.RequireLogin)).Methods(http.MethodGet)
	return r, nil
}

func homeHandler(a *rp.Authenticator, page string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		username, _ := a.Username(req.Context())
		attrs, _ := a.Attributes(req.Context())
		writeJSON(w, map[string]interface{}{
			"page":       page,
			"username":   username,
			"attributes": attrs,
		})
	})
}

// tokenHandler reports on the access token the application would use to call
// a resource server.  The token itself isn't disclosed.
func tokenHandler(a *rp.Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		var opts []rp.Option
		if name := q.Get("name"); name != "" {
			opts = append(opts, rp.WithTokenName(name))
		}
		if scopes := q["scope"]; len(scopes) > 0 {
			opts = append(opts, rp.WithScopes(scopes...))
		}
		t, ok := a.AccessToken(req.Context(), opts...)
		if !ok {
			a.Login(w, req, rp.WithNext(req.URL.RequestURI()))
			return
		}
		writeJSON(w, map[string]interface{}{
			"token_type":  t.TokenType,
			"scope":       t.Scope,
			"expiry":      t.Expiry.UTC().Format(time.RFC3339),
			"refreshable": t.Refreshable(),
			"fingerprint": oidc.TruncateSecret(string(t.AccessToken)),
		})
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
