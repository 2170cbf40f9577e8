// Package browser is an operator over a Chrome tab driven through the
// DevTools protocol.
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
)

// Config configures a browser operator.
type Config struct {
	// RemoteURL attaches to a running browser's DevTools websocket instead of
	// launching one.
	RemoteURL string
	ExecPath  string
	Headless  bool
	Width     int
	Height    int
	StartURL  string

	WaitDuration time.Duration
	// ScrollDelta is the wheel distance of one scroll action in CSS pixels.
	ScrollDelta float64
	Logger      logger.Logger
}

func (c *Config) setDefaults() {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 800
	}
	if c.WaitDuration <= 0 {
		c.WaitDuration = 5 * time.Second
	}
	if c.ScrollDelta <= 0 {
		c.ScrollDelta = 500
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
}

// Operator drives one tab.
type Operator struct {
	page   Page
	cfg    Config
	log    logger.Logger
	cancel context.CancelFunc
}

var _ operator.Operator = (*Operator)(nil)

// Launch starts or attaches to a browser and opens a tab on StartURL. Close
// releases it.
func Launch(ctx context.Context, cfg Config) (*Operator, error) {
	cfg.setDefaults()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(cfg.Width, cfg.Height),
			chromedp.Flag("headless", cfg.Headless),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	start := cfg.StartURL
	if start == "" {
		start = "about:blank"
	}
	if err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(cfg.Width), int64(cfg.Height)),
		chromedp.Navigate(start),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	op := NewWithPage(&cdpPage{tabCtx: tabCtx}, cfg)
	op.cancel = cancel
	return op, nil
}

// NewWithPage creates an operator over an existing page.
func NewWithPage(page Page, cfg Config) *Operator {
	cfg.setDefaults()
	return &Operator{
		page: page,
		cfg:  cfg,
		log:  cfg.Logger.WithField("operator", "browser"),
	}
}

// Close shuts the tab and, when launched by Launch, the browser.
func (o *Operator) Close() error {
	if o.cancel != nil {
		o.cancel()
	}
	return nil
}

// Screenshot captures the viewport.
func (o *Operator) Screenshot(ctx context.Context) (*operator.Screenshot, error) {
	buf, dpr, err := o.page.Capture(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &operator.CaptureError{Operator: "browser", Err: err}
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, &operator.CaptureError{Operator: "browser", Err: fmt.Errorf("invalid screenshot: %w", err)}
	}
	if dpr <= 0 {
		dpr = 1
	}
	return &operator.Screenshot{
		Base64:      base64.StdEncoding.EncodeToString(buf),
		Width:       cfg.Width,
		Height:      cfg.Height,
		ScaleFactor: dpr,
	}, nil
}

// Execute performs one action in the tab. Coordinates are converted from
// physical to CSS pixels with the capture's scale factor.
func (o *Operator) Execute(ctx context.Context, params operator.ExecuteParams) error {
	act := params.Action
	if err := o.page.Err(); err != nil {
		return &operator.ExecutionError{Reason: operator.ReasonSurfaceClosed, Kind: act.Kind, Err: err}
	}

	if act.Kind == action.KindWait {
		return sleep(ctx, o.cfg.WaitDuration)
	}

	actions, err := o.plan(params)
	if err != nil {
		return err
	}

	o.log.Debug(ctx, "dispatching action", map[string]interface{}{
		"kind":   string(act.Kind),
		"events": len(actions),
	})

	if err := o.page.Run(ctx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if pageErr := o.page.Err(); pageErr != nil {
			return &operator.ExecutionError{Reason: operator.ReasonSurfaceClosed, Kind: act.Kind, Err: err}
		}
		return operator.Failed(act.Kind, err)
	}
	return nil
}

// plan builds the protocol calls for an action.
func (o *Operator) plan(params operator.ExecuteParams) ([]chromedp.Action, error) {
	act := params.Action
	start, hasStart := params.LogicalStart()

	needStart := func() error {
		if !hasStart {
			return operator.TargetNotFound(act.Kind, "action has no target point")
		}
		return nil
	}

	switch act.Kind {
	case action.KindClick:
		if err := needStart(); err != nil {
			return nil, err
		}
		return clickEvents(start, input.Left, 1), nil

	case action.KindDoubleClick:
		if err := needStart(); err != nil {
			return nil, err
		}
		events := clickEvents(start, input.Left, 1)
		return append(events, clickEvents(start, input.Left, 2)[1:]...), nil

	case action.KindRightClick:
		if err := needStart(); err != nil {
			return nil, err
		}
		return clickEvents(start, input.Right, 1), nil

	case action.KindHover:
		if err := needStart(); err != nil {
			return nil, err
		}
		return []chromedp.Action{input.DispatchMouseEvent(input.MouseMoved, start.X, start.Y)}, nil

	case action.KindDrag:
		end, hasEnd := params.LogicalEnd()
		if !hasStart || !hasEnd {
			return nil, operator.TargetNotFound(act.Kind, "drag needs a start and an end point")
		}
		mid := action.Point{X: (start.X + end.X) / 2, Y: (start.Y + end.Y) / 2}
		return []chromedp.Action{
			input.DispatchMouseEvent(input.MouseMoved, start.X, start.Y),
			input.DispatchMouseEvent(input.MousePressed, start.X, start.Y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
			input.DispatchMouseEvent(input.MouseMoved, mid.X, mid.Y).WithButton(input.Left).WithButtons(1),
			input.DispatchMouseEvent(input.MouseMoved, end.X, end.Y).WithButton(input.Left).WithButtons(1),
			input.DispatchMouseEvent(input.MouseReleased, end.X, end.Y).WithButton(input.Left).WithClickCount(1),
		}, nil

	case action.KindType:
		text := act.Content
		submit := strings.HasSuffix(text, "\n")
		text = strings.TrimSuffix(text, "\n")
		var actions []chromedp.Action
		if text != "" {
			actions = append(actions, input.InsertText(text))
		}
		if submit {
			events, _ := hotkeyEvents("enter")
			for _, e := range events {
				actions = append(actions, e)
			}
		}
		return actions, nil

	case action.KindHotkey:
		events, err := hotkeyEvents(act.Key)
		if err != nil {
			return nil, &operator.ExecutionError{Reason: operator.ReasonUnsupportedAction, Kind: act.Kind, Err: err}
		}
		actions := make([]chromedp.Action, 0, len(events))
		for _, e := range events {
			actions = append(actions, e)
		}
		return actions, nil

	case action.KindScroll:
		at := start
		if !hasStart {
			scale := params.ScaleFactor
			if scale <= 0 {
				scale = 1
			}
			at = action.Point{X: float64(params.ScreenWidth) / scale / 2, Y: float64(params.ScreenHeight) / scale / 2}
		}
		var dx, dy float64
		switch act.Direction {
		case action.DirectionUp:
			dy = -o.cfg.ScrollDelta
		case action.DirectionDown:
			dy = o.cfg.ScrollDelta
		case action.DirectionLeft:
			dx = -o.cfg.ScrollDelta
		case action.DirectionRight:
			dx = o.cfg.ScrollDelta
		default:
			return nil, operator.Unsupported(act.Kind)
		}
		return []chromedp.Action{
			input.DispatchMouseEvent(input.MouseWheel, at.X, at.Y).WithDeltaX(dx).WithDeltaY(dy),
		}, nil

	case action.KindNavigate:
		url := strings.TrimSpace(act.Content)
		if url == "" {
			return nil, operator.TargetNotFound(act.Kind, "no url")
		}
		if !strings.Contains(url, "://") && !strings.HasPrefix(url, "about:") {
			url = "https://" + url
		}
		return []chromedp.Action{chromedp.Navigate(url)}, nil
	}
	return nil, operator.Unsupported(act.Kind)
}

func clickEvents(p action.Point, button input.MouseButton, count int64) []chromedp.Action {
	return []chromedp.Action{
		input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y),
		input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).WithButton(button).WithButtons(buttonMask(button)).WithClickCount(count),
		input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).WithButton(button).WithClickCount(count),
	}
}

func buttonMask(b input.MouseButton) int64 {
	switch b {
	case input.Left:
		return 1
	case input.Right:
		return 2
	}
	return 0
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
