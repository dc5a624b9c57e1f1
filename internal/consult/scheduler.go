package consult

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs keyed timers. Scheduling a key that already exists replaces
// the previous timer.
type Scheduler interface {
	Every(key string, interval time.Duration, fn func())
	After(key string, delay time.Duration, fn func())
	// Cancel stops the timer for key and reports whether one was running.
	Cancel(key string) bool
	Stop()
}

// Timer keys. One metering tick per session, one expiry per request and one
// disconnect grace per session party.
func tickKey(sessionID string) string        { return "tick:" + sessionID }
func expireKey(requestID string) string      { return "expire:" + requestID }
func graceKey(sessionID, kind string) string { return "grace:" + sessionID + ":" + kind }

// TaskArena is the process-local Scheduler. Each timer is a goroutine bound to
// a child context of the arena; Stop cancels all of them and waits.
type TaskArena struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	tasks  map[string]*task
	wg     sync.WaitGroup
	log    *slog.Logger
}

type task struct {
	cancel context.CancelFunc
}

func NewTaskArena(log *slog.Logger) *TaskArena {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskArena{
		ctx:    ctx,
		cancel: cancel,
		tasks:  map[string]*task{},
		log:    log.With("component", "scheduler"),
	}
}

func (a *TaskArena) Every(key string, interval time.Duration, fn func()) {
	a.spawn(key, func(ctx context.Context, _ *task) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				a.run(key, fn)
			}
		}
	})
}

func (a *TaskArena) After(key string, delay time.Duration, fn func()) {
	a.spawn(key, func(ctx context.Context, self *task) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if a.forget(ctx, key, self) {
			a.run(key, fn)
		}
	})
}

func (a *TaskArena) Cancel(key string) bool {
	a.mu.Lock()
	t, ok := a.tasks[key]
	if ok {
		delete(a.tasks, key)
	}
	a.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Stop cancels every timer and waits for running callbacks to return.
func (a *TaskArena) Stop() {
	a.mu.Lock()
	a.tasks = map[string]*task{}
	a.mu.Unlock()
	a.cancel()
	a.wg.Wait()
}

// Len returns the number of live timers.
func (a *TaskArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

func (a *TaskArena) spawn(key string, loop func(ctx context.Context, self *task)) {
	ctx, cancel := context.WithCancel(a.ctx)
	self := &task{cancel: cancel}

	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		cancel()
		return
	}
	prev := a.tasks[key]
	a.tasks[key] = self
	a.wg.Add(1)
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go func() {
		defer a.wg.Done()
		defer cancel()
		loop(ctx, self)
	}()
}

// forget drops a one-shot task once it fired. It reports false when the task
// was cancelled or replaced between firing and this call; a replacement keeps
// its map entry.
func (a *TaskArena) forget(ctx context.Context, key string, self *task) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil || a.tasks[key] != self {
		return false
	}
	delete(a.tasks, key)
	return true
}

func (a *TaskArena) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("timer callback panicked", "key", key, "panic", r)
		}
	}()
	fn()
}
