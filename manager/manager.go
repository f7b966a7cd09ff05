package manager

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Runnable long-running loop supervised by the manager
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Manager starts, restarts after a panic, and stops runners
type Manager struct {
	mu           sync.RWMutex
	runners      map[string]Runnable
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	restartDelay time.Duration
	restarts     map[string]int
}

// New creates an empty manager
func New() *Manager {
	return &Manager{
		runners:      make(map[string]Runnable),
		restarts:     make(map[string]int),
		restartDelay: 5 * time.Second,
	}
}

// SetRestartDelay pause before a panicked runner is restarted
func (m *Manager) SetRestartDelay(d time.Duration) {
	m.mu.Lock()
	m.restartDelay = d
	m.mu.Unlock()
}

// Add registers a runner; names must be unique
func (m *Manager) Add(r Runnable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runners[r.Name()]; exists {
		return fmt.Errorf("runner '%s' already exists", r.Name())
	}
	m.runners[r.Name()] = r
	log.Info().Str("runner", r.Name()).Msg("✓ Runner added")
	return nil
}

// Names registered runner names, sorted
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.runners))
	for name := range m.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Restarts number of panic restarts of a runner
func (m *Manager) Restarts(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarts[name]
}

// StartAll runs every runner in its own goroutine until ctx is done or StopAll is called
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	runners := make([]Runnable, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	log.Info().Int("count", len(runners)).Msg("🚀 Starting all runners...")
	for _, r := range runners {
		m.wg.Add(1)
		go m.supervise(ctx, r)
	}
}

func (m *Manager) supervise(ctx context.Context, r Runnable) {
	defer m.wg.Done()

	for {
		log.Info().Str("runner", r.Name()).Msg("▶️  Starting runner")
		panicked := m.runProtected(ctx, r)
		if !panicked || ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.restarts[r.Name()]++
		delay := m.restartDelay
		m.mu.Unlock()

		log.Warn().Str("runner", r.Name()).Dur("delay", delay).Msg("🔄 Restarting runner after panic")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// runProtected runs r and converts a panic into a logged restart request
func (m *Manager) runProtected(ctx context.Context, r Runnable) (panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("runner", r.Name()).Str("stack", stackTrace()).Msgf("🚨 PANIC in runner: %v", rec)
			panicked = true
		}
	}()

	if err := r.Run(ctx); err != nil {
		log.Error().Err(err).Str("runner", r.Name()).Msg("❌ Runner stopped with error")
	}
	return false
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// StopAll cancels every runner and waits for them to return
func (m *Manager) StopAll() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()

	log.Info().Msg("⏹  Stopping all runners...")
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
