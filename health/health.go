// Package health tracks the liveness of the manager's moving parts: the bus
// connection and each launched component instance. The aggregate feeds the
// daemon's health endpoint.
package health

import "time"

// Health state labels.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is one named part's health at a point in time.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthy builds a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status: alive but impaired, for example a
// component that missed its readiness deadline.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// Report is the aggregate over all tracked parts: unhealthy dominates
// degraded, degraded dominates healthy. An empty report is healthy.
type Report struct {
	Status    string    `json:"status"`
	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
	Parts     []Status  `json:"parts,omitempty"`
}

// Aggregate folds part statuses into a report.
func Aggregate(parts []Status) Report {
	report := Report{
		Status:    StateHealthy,
		Healthy:   true,
		Timestamp: time.Now(),
		Parts:     parts,
	}

	for _, part := range parts {
		switch part.Status {
		case StateUnhealthy:
			report.Status = StateUnhealthy
			report.Healthy = false
			return report
		case StateDegraded:
			report.Status = StateDegraded
		}
	}
	return report
}
