package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
)

// ErrClosed is reported by a page whose tab has gone away.
var ErrClosed = errors.New("browser tab closed")

// Page is the tab the operator drives.
type Page interface {
	// Capture returns a PNG of the viewport and the device pixel ratio.
	Capture(ctx context.Context) ([]byte, float64, error)
	// Run performs actions against the tab.
	Run(ctx context.Context, actions ...chromedp.Action) error
	// Err is non-nil once the tab is gone.
	Err() error
}

// cdpPage is a chromedp tab. Calls run on a child of the tab context so a
// cancelled caller aborts the call without closing the tab.
type cdpPage struct {
	tabCtx context.Context
}

func (p *cdpPage) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *cdpPage) Capture(ctx context.Context) ([]byte, float64, error) {
	var (
		buf []byte
		dpr float64
	)
	err := p.Run(ctx,
		chromedp.CaptureScreenshot(&buf),
		chromedp.Evaluate(`window.devicePixelRatio`, &dpr),
	)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) == 0 {
		return nil, 0, fmt.Errorf("empty screenshot")
	}
	return buf, dpr, nil
}

func (p *cdpPage) Err() error {
	if err := p.tabCtx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}
