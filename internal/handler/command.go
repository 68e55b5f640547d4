package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/gyaneshwarpardhi/opsbus/internal/config"
	"github.com/gyaneshwarpardhi/opsbus/internal/event"
)

// Command runs an external program with the full event JSON on stdin.
// A non-zero exit is a handler failure; the tail of the program's output
// becomes the recorded park reason.
type Command struct {
	name string
	argv []string
}

// NewCommand creates a Command handler. name defaults to the program path.
func NewCommand(name string, argv []string) *Command {
	if name == "" && len(argv) > 0 {
		name = argv[0]
	}
	return &Command{name: name, argv: argv}
}

func (c *Command) Name() string { return c.name }

func (c *Command) Handle(ctx context.Context, ev *event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", c.argv[0], err, tail(out, 512))
	}
	return nil
}

// FromConfig builds a registry from the configured pattern → command
// bindings. An empty binding list yields a registry with only the catch-all.
func FromConfig(binds []config.HandlerBind) *Registry {
	reg := NewRegistry()
	for _, b := range binds {
		reg.Bind(b.Pattern, NewCommand(b.Name, b.Command))
	}
	return reg
}

func tail(b []byte, n int) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
