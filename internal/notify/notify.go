// Package notify implements the Notifier interface the scheduler and
// supervisor use to surface signals (exhaustion, interrupts, restart
// exhaustion) to an operator-configured command.
package notify

import (
	"os/exec"
)

// NotifyOptions carries the optional fields spec.md §7 lists alongside
// title and message: a priority flag and a link back to the originating
// task.
type NotifyOptions struct {
	Priority bool
	Link     string
}

// Notifier delivers a titled message, optionally flagged as priority and
// carrying a link.
type Notifier interface {
	Notify(title, message string, opts NotifyOptions) error
}

// Noop discards every notification; used when no notify command is
// configured.
type Noop struct{}

// Notify is a no-op.
func (Noop) Notify(title, message string, opts NotifyOptions) error { return nil }

// Command runs a configured shell command with title, message, and link
// as positional arguments, prefixed to indicate priority. Building and
// sending an actual notification (desktop, chat, email) is out of scope
// per spec.md §1; Command exists so the interface has a real, exercised
// implementation.
type Command struct {
	Path string
}

// New returns a Notifier backed by path, or Noop if path is empty.
func New(path string) Notifier {
	if path == "" {
		return Noop{}
	}
	return Command{Path: path}
}

// Notify invokes the configured command with title, message, and link as
// arguments.
func (c Command) Notify(title, message string, opts NotifyOptions) error {
	prefixedTitle := title
	if opts.Priority {
		prefixedTitle = "[priority] " + title
	}
	cmd := exec.Command(c.Path, prefixedTitle, message, opts.Link)
	return cmd.Run()
}
