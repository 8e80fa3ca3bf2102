package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// healthCheckTimeout bounds the whole /health request. Checks still running
// at the deadline are reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthCheck is one dependency reported by /health.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingCheck struct {
	name string
	ping func(ctx context.Context) error
}

func (p pingCheck) Name() string                    { return p.name }
func (p pingCheck) Check(ctx context.Context) error { return p.ping(ctx) }

// DatabaseCheck pings the connection pool.
func DatabaseCheck(db Pinger) HealthCheck {
	return pingCheck{name: "database", ping: db.Ping}
}

// RedisCheck pings the rate limiter backend.
func RedisCheck(client redis.UniversalClient) HealthCheck {
	return pingCheck{name: "redis", ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type checkResult struct {
	name string
	err  error
}

// HandleHealth serves GET /health. Every registered check runs in parallel;
// the answer is 200 only if all of them pass within healthCheckTimeout.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := s.HealthChecks
	results := make(chan checkResult, len(checks))
	for _, c := range checks {
		go func() {
			results <- checkResult{name: c.Name(), err: runCheck(ctx, c)}
		}()
	}

	components := make(map[string]componentStatus, len(checks))
	for _, c := range checks {
		components[c.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
	}

collect:
	for range checks {
		select {
		case res := <-results:
			if res.err != nil {
				components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			} else {
				components[res.name] = componentStatus{Status: "healthy"}
			}
		case <-ctx.Done():
			break collect
		}
	}

	resp := healthResponse{Status: "healthy"}
	if len(components) > 0 {
		resp.Components = components
	}
	status := http.StatusOK
	for _, c := range components {
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
	}
	JSON(w, r, status, resp)
}

// runCheck converts a panicking check into a failed one.
func runCheck(ctx context.Context, c HealthCheck) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("health check panicked: %v", rvr)
		}
	}()
	return c.Check(ctx)
}
