package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/webber-shop/api/internal/platform/config"
)

const defaultPingTimeout = 5 * time.Second

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("mysql: provider is closed")

// Provider lazily opens and shares a single database handle.
type Provider struct {
	cfg         config.DatabaseConfig
	pingTimeout time.Duration

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithPingTimeout overrides the timeout used when verifying connectivity.
func WithPingTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.pingTimeout = timeout
		}
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:         cfg,
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// DB returns the shared handle, opening and pinging it on first use.
func (p *Provider) DB(ctx context.Context) (*sql.DB, error) {
	if ctx == nil {
		return nil, errors.New("mysql: context is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.db != nil {
		return p.db, nil
	}

	dsn := strings.TrimSpace(p.cfg.DSN)
	if dsn == "" {
		return nil, errors.New("mysql: dsn is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if p.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	p.db = db
	return db, nil
}

// Close releases the underlying handle. The Provider cannot be reused afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	db := p.db
	p.db = nil
	return db.Close()
}
