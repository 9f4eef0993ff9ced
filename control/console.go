package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RunConsole reads line commands from r and writes replies to w until r is
// exhausted or ctx is done:
//
//	read
//	status
//	led <sensor|status> <on|off>
func RunConsole(ctx context.Context, p *Panel, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			fmt.Fprintln(w, p.Execute(line))
		}
	}
}

// Execute runs one console command and returns the reply.
func (p *Panel) Execute(line string) string {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return "commands: read | status | led <sensor|status> <on|off>"
	}

	switch fields[0] {
	case "read":
		reading, err := p.SensorReading()
		switch {
		case errors.Is(err, ErrNoData):
			return "waiting for sensor data..."
		case errors.Is(err, ErrNotSensor):
			return "no sensor data available"
		case err != nil:
			return fmt.Sprintf("error: %v", err)
		}
		return reading.Format()

	case "status":
		s := p.surface.Status()
		last := "never"
		if !s.LastMessageAt.IsZero() {
			last = s.LastMessageAt.Format("2006-01-02 15:04:05")
		}
		return fmt.Sprintf("connected=%t online=%t received=%d persisted=%d rejected=%d last=%s",
			s.Connected, s.Online, s.Received, s.Persisted, s.Rejected, last)

	case "led":
		if len(fields) != 3 || (fields[2] != "on" && fields[2] != "off") {
			return "usage: led <sensor|status> <on|off>"
		}
		if err := p.SetLED(Target(fields[1]), fields[2] == "on"); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("led %s %s", fields[1], fields[2])

	default:
		return fmt.Sprintf("unknown command %q", fields[0])
	}
}
