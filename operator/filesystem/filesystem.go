// Package filesystem is an operator that presents a directory tree as a
// clickable listing.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
	"github.com/hairizuanbinnoorazman/guiagent/operator/textscreen"
)

// NewFileName is created when text is typed with no file selected.
const NewFileName = "new.txt"

// Config configures a filesystem operator.
type Config struct {
	Width        int
	Height       int
	WaitDuration time.Duration
}

type entry struct {
	name  string
	isDir bool
}

// Operator browses an afero.Fs. Row 0 of the screen is always "..", which
// leaves the current directory or file view.
type Operator struct {
	fs     afero.Fs
	cfg    Config
	screen *textscreen.Screen

	mu  sync.Mutex
	cwd string
	// viewing is the file currently shown, empty in the listing.
	viewing  string
	selected int
	offset   int
}

var _ operator.Operator = (*Operator)(nil)

// New creates an operator rooted at "/" of fs.
func New(fs afero.Fs, cfg Config) *Operator {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	if cfg.WaitDuration <= 0 {
		cfg.WaitDuration = time.Second
	}
	return &Operator{
		fs:       fs,
		cfg:      cfg,
		screen:   textscreen.New(cfg.Width, cfg.Height),
		cwd:      "/",
		selected: -1,
	}
}

// NewOS creates an operator over a directory of the host filesystem.
func NewOS(root string, cfg Config) *Operator {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), cfg)
}

// Cwd returns the directory being listed.
func (o *Operator) Cwd() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cwd
}

// Viewing returns the path of the file on screen, if any.
func (o *Operator) Viewing() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewing
}

// Rows returns the text currently on screen and the highlighted row.
func (o *Operator) Rows() ([]string, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rowsLocked()
}

func (o *Operator) rowsLocked() ([]string, int, error) {
	var body []string
	header := ".. (" + o.cwd + ")"

	if o.viewing != "" {
		header = ".. (" + o.viewing + ")"
		data, err := afero.ReadFile(o.fs, o.viewing)
		if err != nil {
			return nil, -1, err
		}
		body = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	} else {
		entries, err := o.entriesLocked()
		if err != nil {
			return nil, -1, err
		}
		for _, e := range entries {
			name := e.name
			if e.isDir {
				name += "/"
			}
			body = append(body, name)
		}
	}

	visible := o.screen.Rows() - 1
	if o.offset > len(body) {
		o.offset = len(body)
	}
	end := o.offset + visible
	if end > len(body) {
		end = len(body)
	}
	rows := append([]string{header}, body[o.offset:end]...)

	highlight := -1
	if o.viewing == "" && o.selected >= o.offset && o.selected < end {
		highlight = o.selected - o.offset + 1
	}
	return rows, highlight, nil
}

func (o *Operator) entriesLocked() ([]entry, error) {
	infos, err := afero.ReadDir(o.fs, o.cwd)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, entry{name: fi.Name(), isDir: fi.IsDir()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return entries[i].name < entries[j].name
	})
	return entries, nil
}

// Screenshot renders the listing or the viewed file.
func (o *Operator) Screenshot(ctx context.Context) (*operator.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, highlight, err := o.Rows()
	if err != nil {
		return nil, &operator.CaptureError{Operator: "filesystem", Err: err}
	}
	shot, err := operator.FromImage(o.screen.Render(rows, highlight), 1)
	if err != nil {
		return nil, &operator.CaptureError{Operator: "filesystem", Err: err}
	}
	return shot, nil
}

// Execute performs one action against the listing.
func (o *Operator) Execute(ctx context.Context, params operator.ExecuteParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	act := params.Action
	if act.Kind == action.KindWait {
		return sleep(ctx, o.cfg.WaitDuration)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch act.Kind {
	case action.KindClick:
		return o.selectAt(params)
	case action.KindDoubleClick:
		if err := o.selectAt(params); err != nil {
			return err
		}
		return o.openSelectedLocked(act.Kind)
	case action.KindType:
		return o.appendLocked(act)
	case action.KindHotkey:
		return o.hotkeyLocked(act)
	case action.KindScroll:
		return o.scrollLocked(act)
	}
	return operator.Unsupported(act.Kind)
}

// selectAt selects the entry under the action's start point. Row 0 selects
// the parent entry, which is stored as -1.
func (o *Operator) selectAt(params operator.ExecuteParams) error {
	p, ok := params.LogicalStart()
	if !ok {
		return operator.TargetNotFound(params.Action.Kind, "no target point")
	}
	row := o.screen.RowAt(p.Y)
	if row < 0 || p.X < 0 || p.X >= float64(o.screen.Width) {
		return operator.TargetNotFound(params.Action.Kind, "point (%.0f,%.0f) is outside the listing", p.X, p.Y)
	}
	if row == 0 {
		o.selected = -1
		return nil
	}
	if o.viewing != "" {
		// Rows of a viewed file are not selectable.
		return nil
	}

	entries, err := o.entriesLocked()
	if err != nil {
		return &operator.ExecutionError{Reason: operator.ReasonSurfaceClosed, Kind: params.Action.Kind, Err: err}
	}
	idx := o.offset + row - 1
	if idx >= len(entries) {
		return operator.TargetNotFound(params.Action.Kind, "no entry at row %d", row)
	}
	o.selected = idx
	return nil
}

func (o *Operator) openSelectedLocked(kind action.Kind) error {
	if o.selected < 0 {
		o.goUpLocked()
		return nil
	}
	entries, err := o.entriesLocked()
	if err != nil {
		return operator.Failed(kind, err)
	}
	e := entries[o.selected]
	target := path.Join(o.cwd, e.name)
	if e.isDir {
		o.cwd = target
	} else {
		o.viewing = target
	}
	o.selected = -1
	o.offset = 0
	return nil
}

func (o *Operator) goUpLocked() {
	if o.viewing != "" {
		o.viewing = ""
	} else {
		o.cwd = path.Dir(o.cwd)
	}
	o.selected = -1
	o.offset = 0
}

func (o *Operator) selectedEntryLocked() (*entry, error) {
	if o.selected < 0 {
		return nil, nil
	}
	entries, err := o.entriesLocked()
	if err != nil {
		return nil, err
	}
	if o.selected >= len(entries) {
		return nil, nil
	}
	return &entries[o.selected], nil
}

// appendLocked appends the typed content to the viewed or selected file, or
// to NewFileName in the current directory.
func (o *Operator) appendLocked(act action.Parsed) error {
	target := o.viewing
	if target == "" {
		e, err := o.selectedEntryLocked()
		if err != nil {
			return operator.Failed(act.Kind, err)
		}
		switch {
		case e == nil:
			target = path.Join(o.cwd, NewFileName)
		case e.isDir:
			return operator.TargetNotFound(act.Kind, "%s is a directory", e.name)
		default:
			target = path.Join(o.cwd, e.name)
		}
	}

	f, err := o.fs.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return operator.Failed(act.Kind, err)
	}
	if _, err := f.WriteString(act.Content); err != nil {
		f.Close()
		return operator.Failed(act.Kind, err)
	}
	if err := f.Close(); err != nil {
		return operator.Failed(act.Kind, err)
	}
	return nil
}

func (o *Operator) hotkeyLocked(act action.Parsed) error {
	switch act.Key {
	case "delete", "del":
		if o.viewing != "" {
			return operator.TargetNotFound(act.Kind, "nothing selected")
		}
		e, err := o.selectedEntryLocked()
		if err != nil {
			return operator.Failed(act.Kind, err)
		}
		if e == nil {
			return operator.TargetNotFound(act.Kind, "nothing selected")
		}
		if err := o.fs.RemoveAll(path.Join(o.cwd, e.name)); err != nil {
			return operator.Failed(act.Kind, err)
		}
		o.selected = -1
		return nil
	case "enter", "return":
		return o.openSelectedLocked(act.Kind)
	case "escape", "esc", "backspace":
		o.goUpLocked()
		return nil
	}
	return operator.Unsupported(act.Kind)
}

func (o *Operator) scrollLocked(act action.Parsed) error {
	page := o.screen.Rows() - 1
	if page < 1 {
		page = 1
	}
	switch act.Direction {
	case action.DirectionDown:
		o.offset += page
	case action.DirectionUp:
		o.offset -= page
		if o.offset < 0 {
			o.offset = 0
		}
	default:
		return operator.Unsupported(act.Kind)
	}
	return nil
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

// String describes the operator's position, for logs.
func (o *Operator) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.viewing != "" {
		return fmt.Sprintf("filesystem(view %s)", o.viewing)
	}
	return fmt.Sprintf("filesystem(%s)", o.cwd)
}
