package tasks

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scitex/scitex-cloud/pkg/config"
)

// ErrInvalidRateLimit is returned for rate limits not in "N", "N/s", "N/m" or "N/h" form.
var ErrInvalidRateLimit = errors.New("invalid rate limit")

// Route sends tasks whose name matches Pattern to Queue.
type Route struct {
	Pattern   string `json:"pattern"`
	Queue     string `json:"queue"`
	RateLimit string `json:"rate_limit,omitempty"`
}

// Router resolves task names to queues. Routes are checked in order and
// the first matching pattern wins.
type Router struct {
	mu           sync.RWMutex
	routes       []Route
	defaultQueue string
}

// NewRouter validates routes and returns a Router.
func NewRouter(routes []Route, defaultQueue string) (*Router, error) {
	r := &Router{}
	if err := r.Update(routes, defaultQueue); err != nil {
		return nil, err
	}
	return r, nil
}

// RouterFromConfig builds a Router from the task_routes setting.
func RouterFromConfig(cfg *config.Config) (*Router, error) {
	return NewRouter(RoutesFromConfig(cfg), cfg.DefaultQueue)
}

// RoutesFromConfig converts the configured task routes.
func RoutesFromConfig(cfg *config.Config) []Route {
	routes := make([]Route, 0, len(cfg.TaskRoutes))
	for _, r := range cfg.TaskRoutes {
		routes = append(routes, Route{Pattern: r.Pattern, Queue: r.Queue, RateLimit: r.RateLimit})
	}
	return routes
}

// Update replaces the routing table. On error the old table is kept.
func (r *Router) Update(routes []Route, defaultQueue string) error {
	if defaultQueue == "" {
		return fmt.Errorf("default queue must not be empty")
	}
	for _, route := range routes {
		if route.Pattern == "" || route.Queue == "" {
			return fmt.Errorf("route needs a pattern and a queue: %+v", route)
		}
		if _, err := path.Match(route.Pattern, ""); err != nil {
			return fmt.Errorf("route pattern %q: %w", route.Pattern, err)
		}
		if _, err := ParseRateLimit(route.RateLimit); err != nil {
			return fmt.Errorf("route %s: %w", route.Pattern, err)
		}
	}

	copied := append([]Route(nil), routes...)
	r.mu.Lock()
	r.routes = copied
	r.defaultQueue = defaultQueue
	r.mu.Unlock()
	return nil
}

// Resolve returns the route for task. Unmatched tasks get a route on the
// default queue without a rate limit.
func (r *Router) Resolve(task string) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if ok, _ := path.Match(route.Pattern, task); ok {
			return route
		}
	}
	return Route{Pattern: task, Queue: r.defaultQueue}
}

// Routes returns a copy of the routing table.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Route(nil), r.routes...)
}

// DefaultQueue returns the queue for unmatched tasks.
func (r *Router) DefaultQueue() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultQueue
}

// Queues returns every queue named by the table, default queue first.
func (r *Router) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{r.defaultQueue: true}
	queues := []string{r.defaultQueue}
	for _, route := range r.routes {
		if !seen[route.Queue] {
			seen[route.Queue] = true
			queues = append(queues, route.Queue)
		}
	}
	return queues
}

// ParseRateLimit parses a rate such as "10/m" into a rate.Limit. A bare
// number is per second. Empty or zero means unlimited.
func ParseRateLimit(s string) (rate.Limit, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return rate.Inf, nil
	}
	num, unit, hasUnit := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRateLimit, s)
	}
	if n == 0 {
		return rate.Inf, nil
	}

	per := time.Second
	if hasUnit {
		switch unit {
		case "s":
		case "m":
			per = time.Minute
		case "h":
			per = time.Hour
		default:
			return 0, fmt.Errorf("%w: %q", ErrInvalidRateLimit, s)
		}
	}
	return rate.Limit(n / per.Seconds()), nil
}
