// Package shutdown coordinates graceful termination: one broadcast signal,
// then a bounded-time join of every registered task.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oriys/embedstar/internal/logging"
)

// DefaultJoinTimeout bounds the total wait for registered tasks.
const DefaultJoinTimeout = 30 * time.Second

type task struct {
	name string
	done chan struct{}
}

// Controller owns the broadcast channel. Subscribers select on Done();
// tasks announce their exit through the func returned by Register.
type Controller struct {
	mu    sync.Mutex
	done  chan struct{}
	tasks []*task
	once  sync.Once
}

// NewController builds an un-triggered controller.
func NewController() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Done returns the broadcast channel, closed exactly once on shutdown.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Triggered reports whether shutdown has been requested.
func (c *Controller) Triggered() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Shutdown publishes the signal. Safe to call multiple times.
func (c *Controller) Shutdown() {
	c.once.Do(func() {
		logging.Op().Info("shutdown signal published")
		close(c.done)
	})
}

// HandleSignals triggers shutdown on SIGINT or SIGTERM.
func (c *Controller) HandleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Op().Info("received signal", "signal", sig.String())
			c.Shutdown()
		case <-c.done:
		}
	}()
}

// Register announces a task the controller should join on shutdown. The
// returned func must be called exactly once when the task exits.
func (c *Controller) Register(name string) func() {
	t := &task{name: name, done: make(chan struct{})}
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(t.done) })
	}
}

// Wait joins every registered task under one total deadline. Tasks still
// running when it expires are abandoned with a warning, never force-killed.
// Returns true when every task finished in time.
func (c *Controller) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}

	c.mu.Lock()
	tasks := make([]*task, len(c.tasks))
	copy(tasks, c.tasks)
	c.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, t := range tasks {
		select {
		case <-t.done:
		case <-deadline.C:
			abandoned := []string{}
			for _, rest := range tasks {
				select {
				case <-rest.done:
				default:
					abandoned = append(abandoned, rest.name)
				}
			}
			logging.Op().Warn("shutdown deadline reached, abandoning tasks",
				"timeout", timeout, "abandoned", abandoned)
			return false
		}
	}

	logging.Op().Info("all tasks stopped cleanly", "tasks", len(tasks))
	return true
}
