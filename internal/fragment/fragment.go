// ABOUTME: Fragment bundles commands, listeners and tasks authored by one feature
// ABOUTME: Attach hands everything to a Router; fragments do not know each other

package fragment

import (
	"context"
	"fmt"

	"github.com/2389/coven-familiar/internal/chat"
)

// Handler runs a command.
type Handler func(ctx context.Context, inv *Invocation) error

// Predicate decides whether an invocation may run. Predicates run in order
// and the first false result stops the command.
type Predicate func(ctx context.Context, inv *Invocation) (bool, error)

// Listener handles one gateway event.
type Listener func(ctx context.Context, ev chat.Event) error

// Task is a long-running background job. It should return when ctx ends.
type Task func(ctx context.Context) error

// Command is a named, invocable action.
type Command struct {
	Name    string
	Usage   string
	Help    string
	Hidden  bool
	Checks  []Predicate
	Handler Handler
}

type listenerEntry struct {
	event    string
	listener Listener
}

type taskEntry struct {
	name string
	task Task
}

// Fragment is an independently authored bundle of commands, listeners and
// tasks. Build it at startup and attach it exactly once: Attach does not
// guard against repeat calls.
type Fragment struct {
	name      string
	commands  []Command
	listeners []listenerEntry
	tasks     []taskEntry
}

// New creates an empty fragment.
func New(name string) *Fragment {
	return &Fragment{name: name}
}

// Name returns the fragment name.
func (f *Fragment) Name() string {
	return f.name
}

// Command adds a command.
func (f *Fragment) Command(c Command) {
	f.commands = append(f.commands, c)
}

// Listen subscribes l to the named event.
func (f *Fragment) Listen(event string, l Listener) {
	f.listeners = append(f.listeners, listenerEntry{event: event, listener: l})
}

// Task adds a background job started when the router runs.
func (f *Fragment) Task(name string, t Task) {
	f.tasks = append(f.tasks, taskEntry{name: name, task: t})
}

// Attach registers everything in the fragment with r. Command name
// collisions return ErrCommandExists; commands added before the collision
// stay registered.
func (f *Fragment) Attach(r *Router) error {
	r.logger.Debug("attaching fragment",
		"fragment", f.name,
		"commands", len(f.commands),
		"listeners", len(f.listeners),
		"tasks", len(f.tasks),
	)

	for _, c := range f.commands {
		if err := r.AddCommand(c); err != nil {
			return fmt.Errorf("attaching fragment %s: %w", f.name, err)
		}
	}
	for _, l := range f.listeners {
		r.AddListener(l.event, l.listener)
	}
	for _, t := range f.tasks {
		r.AddTask(f.name+"."+t.name, t.task)
	}
	return nil
}
