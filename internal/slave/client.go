// Package slave starts runners on other hosts. The client side launches an
// arbitrary command (typically ssh) that ends in "testforge slave-mode"; the
// server side is that command, which asks the master for its configuration
// and then runs an ordinary runner over its stdin and stdout.
package slave

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
)

// Client starts one remote runner per slave descriptor.
type Client struct {
	descriptors map[*channel.Channel]config.SlaveDescriptor
	cmds        []*exec.Cmd
}

// NewClient returns a client with no hosts started.
func NewClient() *Client {
	return &Client{descriptors: make(map[*channel.Channel]config.SlaveDescriptor)}
}

// Connect starts every slave and returns their channels in descriptor order.
// Remote runners request their configuration on their own, so the hosts
// come up in parallel.
func (c *Client) Connect(ctx context.Context, slaves []config.SlaveDescriptor) ([]*channel.Channel, error) {
	chans := make([]*channel.Channel, 0, len(slaves))
	for _, d := range slaves {
		ch, err := c.start(ctx, d)
		if err != nil {
			for _, started := range chans {
				_ = started.Close()
			}
			return nil, err
		}
		chans = append(chans, ch)
	}
	return chans, nil
}

// start runs the launch command with stdin, stdout and stderr on one end of
// a pipe pair. Stderr shares the frame stream on purpose: stray output from
// the command surfaces as a protocol error that names it.
func (c *Client) start(ctx context.Context, d config.SlaveDescriptor) (*channel.Channel, error) {
	ours, theirs, err := channel.Pipe()
	if err != nil {
		return nil, err
	}
	files := theirs.Files()

	slog.Debug("starting slave runner", "command", d.Command, "cpus", d.CPUs)
	cmd := exec.CommandContext(ctx, "sh", "-c", d.Command)
	cmd.Stdin = files[0]
	cmd.Stdout = files[1]
	cmd.Stderr = files[1]

	if err := cmd.Start(); err != nil {
		_ = ours.Close()
		_ = theirs.Close()
		return nil, fmt.Errorf("start slave %q: %w", d.Command, err)
	}
	_ = theirs.Close()

	c.descriptors[ours] = d
	c.cmds = append(c.cmds, cmd)
	return ours, nil
}

// Descriptor returns the descriptor a channel was started from.
func (c *Client) Descriptor(ch *channel.Channel) (config.SlaveDescriptor, bool) {
	d, ok := c.descriptors[ch]
	return d, ok
}

// Wait reaps every launch command.
func (c *Client) Wait() {
	for _, cmd := range c.cmds {
		if err := cmd.Wait(); err != nil {
			slog.Debug("slave command exited", "command", cmd.Args[len(cmd.Args)-1], "error", err)
		}
	}
}
