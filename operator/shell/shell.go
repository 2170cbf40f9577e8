// Package shell is an operator over a command line: typed text builds a
// pending line, Enter runs it and the transcript is what the screen shows.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
	"github.com/hairizuanbinnoorazman/guiagent/operator/textscreen"
)

const prompt = "$ "

// Config configures a shell operator.
type Config struct {
	Shell          string
	Dir            string
	CommandTimeout time.Duration
	WaitDuration   time.Duration
	Width          int
	Height         int
	Logger         logger.Logger
}

// Operator runs commands through Shell -c.
type Operator struct {
	cfg    Config
	screen *textscreen.Screen
	log    logger.Logger

	mu         sync.Mutex
	pending    string
	transcript []string
	// scrollback is how many rows the view is moved up from the bottom.
	scrollback int
}

var _ operator.Operator = (*Operator)(nil)

// New creates a shell operator.
func New(cfg Config) *Operator {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.WaitDuration <= 0 {
		cfg.WaitDuration = time.Second
	}
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 768
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Operator{
		cfg:    cfg,
		screen: textscreen.New(cfg.Width, cfg.Height),
		log:    log.WithField("operator", "shell"),
	}
}

// Screenshot renders the tail of the transcript followed by the prompt.
func (o *Operator) Screenshot(ctx context.Context) (*operator.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := o.screen.Render(o.View(), -1)
	shot, err := operator.FromImage(img, 1)
	if err != nil {
		return nil, &operator.CaptureError{Operator: "shell", Err: err}
	}
	return shot, nil
}

// View returns the rows currently on screen.
func (o *Operator) View() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	lines := append(append([]string{}, o.transcript...), prompt+o.pending+"_")
	rows := o.screen.Rows()
	end := len(lines) - o.scrollback
	start := end - rows
	if start < 0 {
		start = 0
	}
	return lines[start:end]
}

// Transcript returns a copy of everything printed so far.
func (o *Operator) Transcript() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.transcript...)
}

// Execute performs one action against the command line.
func (o *Operator) Execute(ctx context.Context, params operator.ExecuteParams) error {
	act := params.Action
	switch act.Kind {
	case action.KindType:
		text := act.Content
		submit := strings.HasSuffix(text, "\n")
		text = strings.TrimRight(text, "\n")
		if strings.Contains(text, "\n") {
			return operator.Failed(act.Kind, errors.New("multi-line input is not supported"))
		}
		o.mu.Lock()
		o.pending += text
		o.mu.Unlock()
		if submit {
			return o.submit(ctx)
		}
		return nil

	case action.KindHotkey:
		return o.hotkey(ctx, act)

	case action.KindClick, action.KindHover:
		// The terminal has a single focus target, any point on it will do.
		if act.Start == nil || act.Start.X < 0 || act.Start.Y < 0 ||
			act.Start.X >= float64(params.ScreenWidth) || act.Start.Y >= float64(params.ScreenHeight) {
			return operator.TargetNotFound(act.Kind, "point outside the terminal")
		}
		return nil

	case action.KindScroll:
		o.mu.Lock()
		defer o.mu.Unlock()
		page := o.screen.Rows() - 1
		switch act.Direction {
		case action.DirectionUp:
			o.scrollback += page
			if max := len(o.transcript); o.scrollback > max {
				o.scrollback = max
			}
		case action.DirectionDown:
			o.scrollback -= page
			if o.scrollback < 0 {
				o.scrollback = 0
			}
		default:
			return operator.Unsupported(act.Kind)
		}
		return nil

	case action.KindWait:
		return sleep(ctx, o.cfg.WaitDuration)
	}
	return operator.Unsupported(act.Kind)
}

func (o *Operator) hotkey(ctx context.Context, act action.Parsed) error {
	switch normalizeKey(act.Key) {
	case "enter", "return":
		return o.submit(ctx)
	case "ctrl+c":
		o.mu.Lock()
		o.transcript = append(o.transcript, prompt+o.pending+"^C")
		o.pending = ""
		o.mu.Unlock()
		return nil
	case "ctrl+l":
		o.mu.Lock()
		o.transcript = nil
		o.scrollback = 0
		o.mu.Unlock()
		return nil
	case "backspace":
		o.mu.Lock()
		if r := []rune(o.pending); len(r) > 0 {
			o.pending = string(r[:len(r)-1])
		}
		o.mu.Unlock()
		return nil
	}
	return operator.Unsupported(act.Kind)
}

// submit runs the pending line and appends its output to the transcript.
func (o *Operator) submit(ctx context.Context) error {
	o.mu.Lock()
	line := o.pending
	o.pending = ""
	o.scrollback = 0
	o.transcript = append(o.transcript, prompt+line)
	o.mu.Unlock()

	if strings.TrimSpace(line) == "" {
		return nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, o.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, o.cfg.Shell, "-c", line)
	cmd.Dir = o.cfg.Dir
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	o.log.Debug(ctx, "command finished", map[string]interface{}{
		"command": line,
		"bytes":   len(out),
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if text := strings.TrimRight(string(out), "\n"); text != "" {
		o.transcript = append(o.transcript, strings.Split(text, "\n")...)
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case cmdCtx.Err() != nil:
			o.transcript = append(o.transcript, fmt.Sprintf("[timed out after %s]", o.cfg.CommandTimeout))
		case errors.As(err, &exitErr):
			o.transcript = append(o.transcript, fmt.Sprintf("[exit %d]", exitErr.ExitCode()))
		default:
			return operator.Failed(action.KindHotkey, err)
		}
	}
	return nil
}

// normalizeKey turns "Ctrl C", "ctrl-c" and "control+c" into "ctrl+c".
func normalizeKey(key string) string {
	fields := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == ' ' || r == '+' || r == '-'
	})
	for i, f := range fields {
		if f == "control" {
			fields[i] = "ctrl"
		}
	}
	return strings.Join(fields, "+")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
