// ABOUTME: Router dispatches gateway events to listeners and prefixed messages to commands
// ABOUTME: Every handler runs in its own goroutine behind the error boundary

package fragment

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/2389/coven-familiar/internal/chat"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Prefix starts every command, e.g. "!".
	Prefix string

	Sender     chat.Sender
	Authorizer chat.Authorizer

	// Reporter receives internal errors. Optional.
	Reporter Reporter

	Logger *slog.Logger
}

// Router is the running bot instance fragments attach to.
type Router struct {
	prefix     string
	sender     chat.Sender
	authorizer chat.Authorizer
	reporter   Reporter
	logger     *slog.Logger

	mu        sync.RWMutex
	commands  map[string]Command
	order     []string
	listeners map[string][]Listener
	tasks     []taskEntry
	runCtx    context.Context

	inflight sync.WaitGroup
	running  sync.WaitGroup
}

// NewRouter creates a router with no commands.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}
	return &Router{
		prefix:     prefix,
		sender:     cfg.Sender,
		authorizer: cfg.Authorizer,
		reporter:   cfg.Reporter,
		logger:     logger.With("component", "router"),
		commands:   make(map[string]Command),
		listeners:  make(map[string][]Listener),
	}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string {
	return r.prefix
}

// AddCommand registers c. Returns ErrCommandExists if the name is taken.
func (r *Router) AddCommand(c Command) error {
	if c.Name == "" || c.Handler == nil {
		return fmt.Errorf("command needs a name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrCommandExists, c.Name)
	}
	r.commands[c.Name] = c
	r.order = append(r.order, c.Name)
	r.logger.Info("registered command", "command", c.Name, "checks", len(c.Checks))
	return nil
}

// AddListener subscribes l to the named event.
func (r *Router) AddListener(event string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[event] = append(r.listeners[event], l)
}

// AddTask registers a background task. If the router is already running the
// task starts immediately.
func (r *Router) AddTask(name string, t Task) {
	r.mu.Lock()
	entry := taskEntry{name: name, task: t}
	r.tasks = append(r.tasks, entry)
	runCtx := r.runCtx
	r.mu.Unlock()

	if runCtx != nil {
		r.startTask(runCtx, entry)
	}
}

// Command looks up a command by name.
func (r *Router) Command(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// Commands returns every command sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	out := make([]Command, 0, len(names))
	for _, name := range names {
		out = append(out, r.commands[name])
	}
	return out
}

// Run starts every registered task and dispatches events in arrival order
// until ctx ends or events closes. On return, tasks have stopped and
// in-flight handlers have finished.
func (r *Router) Run(ctx context.Context, events <-chan chat.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.runCtx != nil {
		r.mu.Unlock()
		return fmt.Errorf("router already running")
	}
	r.runCtx = ctx
	tasks := append([]taskEntry(nil), r.tasks...)
	r.mu.Unlock()

	for _, t := range tasks {
		r.startTask(ctx, t)
	}
	r.logger.Info("router running", "tasks", len(tasks))

	defer func() {
		cancel()
		r.running.Wait()
		r.inflight.Wait()
		r.logger.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, ev)
		}
	}
}

// Wait blocks until every in-flight listener and command has returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// Dispatch fans ev out to its listeners and, for prefixed messages, to the
// matching command. It does not wait for them.
func (r *Router) Dispatch(ctx context.Context, ev chat.Event) {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners[ev.Name]...)
	r.mu.RUnlock()

	for _, l := range listeners {
		r.goListener(ctx, ev, l)
	}

	if ev.Name == chat.EventMessage && ev.Message != nil && !ev.Message.Author.Bot {
		if inv, ok := r.parse(ev.Message); ok {
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.invoke(ctx, inv)
			}()
		}
	}
}

func (r *Router) goListener(ctx context.Context, ev chat.Event, l Listener) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if err := safely(func() error { return l(ctx, ev) }); err != nil {
			r.handleListenerError(ctx, ev, err)
		}
	}()
}

func (r *Router) startTask(ctx context.Context, t taskEntry) {
	r.running.Add(1)
	go func() {
		defer r.running.Done()
		r.logger.Debug("task started", "task", t.name)
		err := safely(func() error { return t.task(ctx) })
		if err != nil && ctx.Err() == nil {
			r.handleTaskError(ctx, t.name, err)
			return
		}
		r.logger.Debug("task stopped", "task", t.name)
	}()
}

// parse splits a prefixed message into an invocation. Unknown commands are
// ignored.
func (r *Router) parse(msg *chat.Message) (*Invocation, bool) {
	body, ok := strings.CutPrefix(msg.Content, r.prefix)
	if !ok {
		return nil, false
	}
	body = strings.TrimSpace(body)
	name, raw := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, raw = body[:i], body[i:]
	}
	if name == "" {
		return nil, false
	}

	c, ok := r.Command(name)
	if !ok {
		r.logger.Debug("unknown command", "command", name)
		return nil, false
	}

	raw = strings.TrimSpace(raw)
	return &Invocation{
		Message: msg,
		Command: c,
		Raw:     raw,
		Args:    strings.Fields(raw),
		router:  r,
	}, true
}

func (r *Router) invoke(ctx context.Context, inv *Invocation) {
	logger := r.logger.With("command", inv.Command.Name, "channel", inv.Message.ChannelID)
	logger.Debug("running command", "args", inv.Raw)

	err := safely(func() error {
		if err := inv.runChecks(ctx, inv.Command); err != nil {
			return err
		}
		return inv.Command.Handler(ctx, inv)
	})
	if err != nil {
		r.handleCommandError(ctx, inv, err)
	}
}

// safely runs fn and turns a panic into a panicError.
func safely(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()
	return fn()
}
