package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"llmnet/internal/metrics"
)

// ProxyEnvVars are the conventional proxy variables cleared by a direct scope
var ProxyEnvVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"}

type scopeMode int

const (
	modeIdle scopeMode = iota
	modeDirect
	modeProxy
)

func (m scopeMode) String() string {
	switch m {
	case modeDirect:
		return "direct"
	case modeProxy:
		return "proxy"
	default:
		return "idle"
	}
}

type savedVar struct {
	value   string
	present bool
}

// ErrProxyScopeConflict is returned when a scope of one mode is requested
// from inside a held scope of the other mode. Waiting would never end since
// the outer scope cannot exit first.
var ErrProxyScopeConflict = errors.New("proxy scope conflicts with the enclosing scope")

// envGuard serializes proxy scopes over the process environment. Scopes of
// the same mode share the environment; a scope of the other mode waits until
// every active scope has exited. Once a scope of the other mode is waiting,
// new scopes of the held mode queue behind it, and when the guard drains the
// waiting mode goes first. The first direct scope clears the proxy variables
// and the last one restores them.
type envGuard struct {
	mu      sync.Mutex
	mode    scopeMode
	last    scopeMode
	active  int
	waiting map[scopeMode]int
	wake    chan struct{}
	saved   map[string]savedVar
}

func newEnvGuard() *envGuard {
	return &envGuard{
		waiting: make(map[scopeMode]int),
		wake:    make(chan struct{}),
	}
}

var guard = newEnvGuard()

func opposite(mode scopeMode) scopeMode {
	if mode == modeDirect {
		return modeProxy
	}
	return modeDirect
}

// admits reports whether a scope of mode may start now. queued is set for
// callers that were already waiting.
func (g *envGuard) admits(mode scopeMode, queued bool) bool {
	others := g.waiting[opposite(mode)]
	if g.active == 0 {
		return others == 0 || g.last != mode
	}
	return g.mode == mode && (queued || others == 0)
}

// broadcast wakes every waiter. Callers hold g.mu.
func (g *envGuard) broadcast() {
	close(g.wake)
	g.wake = make(chan struct{})
}

// enter blocks until a scope of mode can be held or ctx is done
func (g *envGuard) enter(ctx context.Context, mode scopeMode) error {
	g.mu.Lock()
	if g.admits(mode, false) {
		g.acquire(mode)
		g.mu.Unlock()
		return nil
	}

	g.waiting[mode]++
	for {
		wake := g.wake
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.waiting[mode]--
			// scopes queued behind this waiter may be admitted now
			g.broadcast()
			g.mu.Unlock()
			return ctx.Err()
		case <-wake:
		}

		g.mu.Lock()
		if g.admits(mode, true) {
			g.waiting[mode]--
			g.acquire(mode)
			g.mu.Unlock()
			return nil
		}
	}
}

// acquire takes one scope of mode. Callers hold g.mu.
func (g *envGuard) acquire(mode scopeMode) {
	if g.active == 0 {
		g.mode = mode
		if mode == modeDirect {
			g.saved = make(map[string]savedVar, len(ProxyEnvVars))
			for _, name := range ProxyEnvVars {
				value, present := os.LookupEnv(name)
				g.saved[name] = savedVar{value: value, present: present}
			}
			for _, name := range ProxyEnvVars {
				os.Unsetenv(name)
			}
		}
	}
	g.active++
	metrics.ProxyScopesActive.WithLabelValues(mode.String()).Inc()
}

func (g *envGuard) exit(mode scopeMode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.active--
	metrics.ProxyScopesActive.WithLabelValues(mode.String()).Dec()
	if g.active > 0 {
		return
	}

	if g.mode == modeDirect {
		for _, name := range ProxyEnvVars {
			prev := g.saved[name]
			if prev.present {
				os.Setenv(name, prev.value)
			} else {
				os.Unsetenv(name)
			}
		}
		g.saved = nil
	}
	g.last = g.mode
	g.mode = modeIdle
	g.broadcast()
}

type scopeKey struct{}

// heldMode returns the mode of the scope carried by ctx
func heldMode(ctx context.Context) (scopeMode, bool) {
	mode, ok := ctx.Value(scopeKey{}).(scopeMode)
	return mode, ok
}

// ProxyScope is a held proxy environment override. Exit restores the
// environment and is safe to call more than once.
//
// Go's own http.ProxyFromEnvironment reads the variables once per process,
// so a scope only affects code that reads them itself (provider SDKs, child
// processes). The manager's HTTP clients use an explicit ProxyConfig instead.
type ProxyScope struct {
	mode   scopeMode
	ctx    context.Context
	nested bool
	once   sync.Once
}

// EnterProxyScope acquires a scope. With useProxy false the proxy variables
// are removed until the scope exits; with useProxy true the environment is
// left untouched but held against concurrent direct scopes.
//
// Waiting for the other mode to drain ends when ctx is done. Work inside the
// scope should use Context, which marks the scope as held: entering the same
// mode again from it joins the held scope, and entering the other mode fails
// with ErrProxyScopeConflict instead of waiting on itself.
func EnterProxyScope(ctx context.Context, useProxy bool) (*ProxyScope, error) {
	mode := modeDirect
	if useProxy {
		mode = modeProxy
	}

	if held, ok := heldMode(ctx); ok {
		if held != mode {
			return nil, fmt.Errorf("enter %s scope inside %s scope: %w", mode, held, ErrProxyScopeConflict)
		}
		return &ProxyScope{mode: mode, ctx: ctx, nested: true}, nil
	}

	if err := guard.enter(ctx, mode); err != nil {
		return nil, fmt.Errorf("wait for %s proxy scope: %w", mode, err)
	}
	return &ProxyScope{mode: mode, ctx: context.WithValue(ctx, scopeKey{}, mode)}, nil
}

// Context returns the context to run scoped work with
func (s *ProxyScope) Context() context.Context {
	return s.ctx
}

// Exit releases the scope
func (s *ProxyScope) Exit() {
	if s.nested {
		return
	}
	s.once.Do(func() {
		guard.exit(s.mode)
	})
}

// WithProxyScope runs fn inside a proxy scope. The environment is restored
// even if fn panics.
func WithProxyScope(ctx context.Context, useProxy bool, fn func(ctx context.Context) error) error {
	scope, err := EnterProxyScope(ctx, useProxy)
	if err != nil {
		return err
	}
	defer scope.Exit()
	return fn(scope.Context())
}

// CurrentProxyEnv returns the proxy variables of the process. While direct
// scopes are held it reports the values they will restore.
func CurrentProxyEnv() map[string]string {
	guard.mu.Lock()
	defer guard.mu.Unlock()

	env := make(map[string]string)
	for _, name := range ProxyEnvVars {
		if guard.active > 0 && guard.mode == modeDirect {
			if prev := guard.saved[name]; prev.present {
				env[name] = prev.value
			}
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env[name] = value
		}
	}
	return env
}
