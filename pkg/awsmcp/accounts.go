package awsmcp

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// AccountSet owns the bindings and lazily created ClientRegistry of every
// configured account.
type AccountSet struct {
	mu             sync.RWMutex
	defaultAccount string
	bindings       map[string]AccountBinding
	registries     map[string]*ClientRegistry

	loader  ConfigLoader
	assumer RoleAssumer
	factory ClientFactory
	logger  *slog.Logger
}

// AccountOption configures an AccountSet.
type AccountOption func(*AccountSet)

// WithConfigLoader sets the base session loader.
func WithConfigLoader(l ConfigLoader) AccountOption {
	return func(s *AccountSet) {
		s.loader = l
	}
}

// WithRoleAssumer sets the token exchange used for role ARNs.
func WithRoleAssumer(a RoleAssumer) AccountOption {
	return func(s *AccountSet) {
		s.assumer = a
	}
}

// WithClientFactory sets the client constructor.
func WithClientFactory(f ClientFactory) AccountOption {
	return func(s *AccountSet) {
		s.factory = f
	}
}

// WithAccountLogger sets the logger handed to registries and resolvers.
func WithAccountLogger(l *slog.Logger) AccountOption {
	return func(s *AccountSet) {
		s.logger = l
	}
}

// NewAccountSet creates an AccountSet. The default account must be among
// bindings and must validate.
func NewAccountSet(defaultAccount string, bindings []AccountBinding, opts ...AccountOption) (*AccountSet, error) {
	s := &AccountSet{
		defaultAccount: defaultAccount,
		bindings:       make(map[string]AccountBinding, len(bindings)),
		registries:     make(map[string]*ClientRegistry),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, b := range bindings {
		if b.Name == "" {
			return nil, fmt.Errorf("account binding without a name")
		}
		if _, exists := s.bindings[b.Name]; exists {
			return nil, fmt.Errorf("account already configured: %s", b.Name)
		}
		s.bindings[b.Name] = b
	}

	def, ok := s.bindings[defaultAccount]
	if !ok {
		return nil, fmt.Errorf("default account %q is not configured", defaultAccount)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default account %q: %w", defaultAccount, err)
	}
	return s, nil
}

// Default returns the default account name.
func (s *AccountSet) Default() string {
	return s.defaultAccount
}

// Names returns the configured account names, sorted.
func (s *AccountSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Binding returns the configuration of one account.
func (s *AccountSet) Binding(name string) (AccountBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[name]
	return b, ok
}

// Registry returns the ClientRegistry of the account named by hint, or of
// the default account when hint is empty. Unknown or invalid accounts fail
// with a *ConfigError.
func (s *AccountSet) Registry(hint string) (*ClientRegistry, error) {
	name := hint
	if name == "" {
		name = s.defaultAccount
	}

	s.mu.RLock()
	r, exists := s.registries[name]
	s.mu.RUnlock()
	if exists {
		return r, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, exists = s.registries[name]; exists {
		return r, nil
	}

	b, ok := s.bindings[name]
	if !ok {
		return nil, &ConfigError{Account: name, Message: fmt.Sprintf("unknown account: %s", name)}
	}
	if err := b.Validate(); err != nil {
		return nil, &ConfigError{Account: name, Message: fmt.Sprintf("invalid account %s", name), Cause: err}
	}

	logger := s.logger.With("account", name)
	r = NewClientRegistry(b, NewCredentialResolver(s.loader, s.assumer, logger), s.factory, s.logger)
	s.registries[name] = r
	return r, nil
}

// Invalidate discards the cached session and handles of one account.
func (s *AccountSet) Invalidate(name string) {
	s.mu.RLock()
	r, ok := s.registries[name]
	s.mu.RUnlock()
	if ok {
		r.Invalidate()
	}
}
