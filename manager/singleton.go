package manager

import (
	"context"
	"sync"

	"github.com/WouterBesse/social-interaction-cloud/component"
	"github.com/WouterBesse/social-interaction-cloud/errors"
	"github.com/WouterBesse/social-interaction-cloud/message"
)

// SingletonManager is a component manager that starts at most one instance
// per class. Repeated start requests for an already running class are
// answered from a cached reply instead of launching again, so the expensive
// classes behind it (sensors, device handles) exist once per device.
//
// The cache belongs to this manager instance and dies with it; a restarted
// manager starts fresh.
type SingletonManager struct {
	*Manager

	cacheMu sync.Mutex
	cache   map[string]*message.StartedComponentInformation
}

// NewSingleton creates a singleton component manager.
func NewSingleton(registry *component.Registry, bus Bus, deviceAddr string, opts ...Option) (*SingletonManager, error) {
	base, err := New(registry, bus, deviceAddr, opts...)
	if err != nil {
		return nil, err
	}

	sm := &SingletonManager{
		Manager: base,
		cache:   make(map[string]*message.StartedComponentInformation),
	}
	base.starter = sm

	return sm, nil
}

// startComponent serves cache hits and delegates misses to the base start
// path. The cache mutex is held across check-and-start so two concurrent
// requests for the same class cannot both launch.
func (sm *SingletonManager) startComponent(ctx context.Context, req *message.StartComponentRequest) StartResult {
	sm.cacheMu.Lock()
	defer sm.cacheMu.Unlock()

	if sm.stopping() {
		// A cached reply would describe an instance shutdown has stopped.
		return StartResult{Outcome: OutcomeFailed, Err: errors.WrapTransient(
			errors.ErrShuttingDown, "SingletonManager", "startComponent", "admit start request")}
	}

	if cached, ok := sm.cache[req.ComponentName]; ok {
		sm.metrics.RecordSingletonHit()
		sm.logger.Info("serving cached reply for component " + req.ComponentName)
		return StartResult{Outcome: OutcomeStarted, Info: cached.Copy()}
	}

	result := sm.Manager.startComponent(ctx, req)
	if result.Outcome == OutcomeStarted {
		result.Info.IsSingleton = true
		sm.cache[req.ComponentName] = result.Info.Copy()
	}
	return result
}

// CachedClasses returns the class names currently held in the cache.
func (sm *SingletonManager) CachedClasses() []string {
	sm.cacheMu.Lock()
	defer sm.cacheMu.Unlock()

	names := make([]string, 0, len(sm.cache))
	for name := range sm.cache {
		names = append(names, name)
	}
	return names
}
