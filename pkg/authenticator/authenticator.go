package authenticator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/scitex/scitex-cloud/pkg/identity"
)

// ErrUnauthorized is returned when credentials are missing, unknown or expired.
var ErrUnauthorized = errors.New("authentication failed")

// Authenticator defines the interface for all authenticators
type Authenticator interface {
	// Name returns the authentication method (e.g., "api-key", "token")
	Name() string

	// Scheme returns the Authorization header scheme it accepts (e.g., "Bearer")
	Scheme() string

	// Authenticate validates a credential and returns the caller's identity.
	// Bad credentials yield an error wrapping ErrUnauthorized; any other
	// error means the check itself could not be made.
	Authenticate(ctx context.Context, input Input) (*identity.Identity, error)
}

// Input contains the input for authentication
type Input struct {
	Credential string
	ClientIP   string
}

// Registry holds all registered authenticators
type Registry struct {
	mu             sync.RWMutex
	authenticators map[string]Authenticator
	enabled        map[string]bool
}

// NewRegistry creates a new authenticator registry
func NewRegistry() *Registry {
	return &Registry{
		authenticators: make(map[string]Authenticator),
		enabled:        make(map[string]bool),
	}
}

// Register adds an authenticator to the registry and enables it
func (r *Registry) Register(auth Authenticator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticators[auth.Name()] = auth
	r.enabled[auth.Name()] = true
}

// Enable enables an authenticator by name
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.authenticators[name]; !ok {
		return fmt.Errorf("authenticator %q not found", name)
	}
	r.enabled[name] = true
	return nil
}

// Disable disables an authenticator by name
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enabled, name)
}

// Get returns an authenticator by name
func (r *Registry) Get(name string) (Authenticator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	auth, ok := r.authenticators[name]
	return auth, ok
}

// IsEnabled checks if an authenticator is enabled
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// Installed returns all installed authenticator names, sorted
func (r *Registry) Installed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.authenticators))
	for name := range r.authenticators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled returns all enabled authenticator names, sorted
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.enabled))
	for name := range r.enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply enables exactly the installed authenticators named in names and
// returns the names that are not installed.
func (r *Registry) Apply(names []string) (missing []string) {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
		if _, ok := r.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	for _, name := range r.Installed() {
		switch {
		case want[name] && !r.IsEnabled(name):
			_ = r.Enable(name)
		case !want[name] && r.IsEnabled(name):
			r.Disable(name)
		}
	}
	sort.Strings(missing)
	return missing
}

// ForScheme returns the enabled authenticator accepting scheme. Schemes
// compare case-insensitively.
func (r *Registry) ForScheme(scheme string) (Authenticator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, auth := range r.authenticators {
		if r.enabled[name] && strings.EqualFold(auth.Scheme(), scheme) {
			return auth, true
		}
	}
	return nil, false
}

// Authenticate resolves an Authorization header value to an identity.
func (r *Registry) Authenticate(ctx context.Context, header, clientIP string) (*identity.Identity, error) {
	scheme, credential, ok := ParseAuthorization(header)
	if !ok {
		return nil, fmt.Errorf("%w: missing or malformed Authorization header", ErrUnauthorized)
	}
	auth, ok := r.ForScheme(scheme)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrUnauthorized, scheme)
	}
	return auth.Authenticate(ctx, Input{Credential: credential, ClientIP: clientIP})
}

// ParseAuthorization splits "Scheme credential".
func ParseAuthorization(header string) (scheme, credential string, ok bool) {
	scheme, credential, ok = strings.Cut(strings.TrimSpace(header), " ")
	credential = strings.TrimSpace(credential)
	if !ok || scheme == "" || credential == "" {
		return "", "", false
	}
	return scheme, credential, true
}
