package browser

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
)

type fakePage struct {
	png     []byte
	dpr     float64
	capErr  error
	runErr  error
	closed  error
	actions []chromedp.Action
}

func (f *fakePage) Capture(ctx context.Context) ([]byte, float64, error) {
	if f.capErr != nil {
		return nil, 0, f.capErr
	}
	return f.png, f.dpr, nil
}

func (f *fakePage) Run(ctx context.Context, actions ...chromedp.Action) error {
	f.actions = append(f.actions, actions...)
	return f.runErr
}

func (f *fakePage) Err() error { return f.closed }

func (f *fakePage) mouse(t *testing.T) []*input.DispatchMouseEventParams {
	t.Helper()
	var out []*input.DispatchMouseEventParams
	for _, a := range f.actions {
		m, ok := a.(*input.DispatchMouseEventParams)
		require.True(t, ok, "unexpected action %T", a)
		out = append(out, m)
	}
	return out
}

func (f *fakePage) keys(t *testing.T) []*input.DispatchKeyEventParams {
	t.Helper()
	var out []*input.DispatchKeyEventParams
	for _, a := range f.actions {
		if k, ok := a.(*input.DispatchKeyEventParams); ok {
			out = append(out, k)
		}
	}
	return out
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func params(kind action.Kind, start, end *action.Point) operator.ExecuteParams {
	return operator.ExecuteParams{
		Action:       action.Parsed{Kind: kind, Start: start, End: end},
		ScreenWidth:  2000,
		ScreenHeight: 1600,
		ScaleFactor:  2,
	}
}

func TestOperator_Screenshot(t *testing.T) {
	page := &fakePage{png: pngOf(t, 2000, 1600), dpr: 2}
	op := NewWithPage(page, Config{})

	shot, err := op.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2000, shot.Width)
	assert.Equal(t, 1600, shot.Height)
	assert.Equal(t, 2.0, shot.ScaleFactor)
	assert.NotEmpty(t, shot.Base64)
}

func TestOperator_ScreenshotFailures(t *testing.T) {
	_, err := NewWithPage(&fakePage{capErr: errors.New("target crashed")}, Config{}).Screenshot(context.Background())
	var capErr *operator.CaptureError
	assert.ErrorAs(t, err, &capErr)

	_, err = NewWithPage(&fakePage{png: []byte("nope")}, Config{}).Screenshot(context.Background())
	assert.ErrorAs(t, err, &capErr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewWithPage(&fakePage{capErr: context.Canceled}, Config{}).Screenshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOperator_Click(t *testing.T) {
	page := &fakePage{}
	op := NewWithPage(page, Config{})

	require.NoError(t, op.Execute(context.Background(), params(action.KindClick, &action.Point{X: 200, Y: 320}, nil)))

	events := page.mouse(t)
	require.Len(t, events, 3)
	assert.Equal(t, input.MouseMoved, events[0].Type)
	assert.Equal(t, input.MousePressed, events[1].Type)
	assert.Equal(t, input.MouseReleased, events[2].Type)
	for _, e := range events {
		assert.Equal(t, 100.0, e.X, "physical pixels are halved at scale 2")
		assert.Equal(t, 160.0, e.Y)
	}
	assert.Equal(t, input.Left, events[1].Button)
	assert.Equal(t, int64(1), events[1].ClickCount)
}

func TestOperator_MouseVariants(t *testing.T) {
	t.Run("double click", func(t *testing.T) {
		page := &fakePage{}
		require.NoError(t, NewWithPage(page, Config{}).Execute(context.Background(), params(action.KindDoubleClick, &action.Point{X: 10, Y: 10}, nil)))
		events := page.mouse(t)
		require.Len(t, events, 5)
		assert.Equal(t, int64(2), events[3].ClickCount)
		assert.Equal(t, int64(2), events[4].ClickCount)
	})

	t.Run("right click", func(t *testing.T) {
		page := &fakePage{}
		require.NoError(t, NewWithPage(page, Config{}).Execute(context.Background(), params(action.KindRightClick, &action.Point{X: 10, Y: 10}, nil)))
		assert.Equal(t, input.Right, page.mouse(t)[1].Button)
	})

	t.Run("drag", func(t *testing.T) {
		page := &fakePage{}
		require.NoError(t, NewWithPage(page, Config{}).Execute(context.Background(),
			params(action.KindDrag, &action.Point{X: 0, Y: 0}, &action.Point{X: 400, Y: 200})))
		events := page.mouse(t)
		require.Len(t, events, 5)
		assert.Equal(t, input.MousePressed, events[1].Type)
		last := events[len(events)-1]
		assert.Equal(t, input.MouseReleased, last.Type)
		assert.Equal(t, 200.0, last.X)
		assert.Equal(t, 100.0, last.Y)
	})

	t.Run("scroll without a point uses the viewport center", func(t *testing.T) {
		page := &fakePage{}
		p := params(action.KindScroll, nil, nil)
		p.Action.Direction = action.DirectionUp
		require.NoError(t, NewWithPage(page, Config{ScrollDelta: 300}).Execute(context.Background(), p))
		events := page.mouse(t)
		require.Len(t, events, 1)
		assert.Equal(t, input.MouseWheel, events[0].Type)
		assert.Equal(t, 500.0, events[0].X)
		assert.Equal(t, 400.0, events[0].Y)
		assert.Equal(t, -300.0, events[0].DeltaY)
	})

	t.Run("missing point", func(t *testing.T) {
		err := NewWithPage(&fakePage{}, Config{}).Execute(context.Background(), params(action.KindClick, nil, nil))
		assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))
	})
}

func TestOperator_Keyboard(t *testing.T) {
	t.Run("type with trailing newline presses enter", func(t *testing.T) {
		page := &fakePage{}
		p := params(action.KindType, nil, nil)
		p.Action.Content = "golang\n"
		require.NoError(t, NewWithPage(page, Config{}).Execute(context.Background(), p))

		require.GreaterOrEqual(t, len(page.actions), 3)
		insert, ok := page.actions[0].(*input.InsertTextParams)
		require.True(t, ok)
		assert.Equal(t, "golang", insert.Text)

		keys := page.keys(t)
		require.Len(t, keys, 2)
		assert.Equal(t, "Enter", keys[0].Key)
		assert.Equal(t, input.KeyDown, keys[0].Type)
		assert.Equal(t, input.KeyUp, keys[1].Type)
	})

	t.Run("hotkey with modifier", func(t *testing.T) {
		page := &fakePage{}
		p := params(action.KindHotkey, nil, nil)
		p.Action.Key = "ctrl c"
		require.NoError(t, NewWithPage(page, Config{}).Execute(context.Background(), p))

		keys := page.keys(t)
		require.Len(t, keys, 4)
		assert.Equal(t, "Control", keys[0].Key)
		assert.Equal(t, "c", keys[1].Key)
		assert.Equal(t, input.KeyRawDown, keys[1].Type, "no text is produced while ctrl is held")
		assert.Equal(t, input.ModifierCtrl, keys[1].Modifiers)
		assert.Empty(t, keys[1].Text)
		assert.Equal(t, "Control", keys[3].Key)
		assert.Equal(t, input.KeyUp, keys[3].Type)
	})

	t.Run("unknown key", func(t *testing.T) {
		p := params(action.KindHotkey, nil, nil)
		p.Action.Key = "hyper"
		err := NewWithPage(&fakePage{}, Config{}).Execute(context.Background(), p)
		assert.Equal(t, operator.ReasonUnsupportedAction, operator.ReasonOf(err))
	})
}

func TestOperator_Navigate(t *testing.T) {
	page := &fakePage{}
	p := params(action.KindNavigate, nil, nil)
	p.Action.Content = "example.com"
	require.NoError(t, NewWithPage(page, Config{}).Execute(context.Background(), p))
	assert.Len(t, page.actions, 1)

	p.Action.Content = ""
	err := NewWithPage(&fakePage{}, Config{}).Execute(context.Background(), p)
	assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))
}

func TestOperator_ExecuteFailures(t *testing.T) {
	t.Run("closed tab", func(t *testing.T) {
		page := &fakePage{closed: ErrClosed}
		err := NewWithPage(page, Config{}).Execute(context.Background(), params(action.KindClick, &action.Point{X: 1, Y: 1}, nil))
		assert.Equal(t, operator.ReasonSurfaceClosed, operator.ReasonOf(err))
		assert.Empty(t, page.actions)
	})

	t.Run("protocol error", func(t *testing.T) {
		page := &fakePage{runErr: errors.New("node detached")}
		err := NewWithPage(page, Config{}).Execute(context.Background(), params(action.KindClick, &action.Point{X: 1, Y: 1}, nil))
		assert.Equal(t, operator.ReasonFailed, operator.ReasonOf(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		page := &fakePage{runErr: context.Canceled}
		err := NewWithPage(page, Config{}).Execute(ctx, params(action.KindClick, &action.Point{X: 1, Y: 1}, nil))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, operator.ReasonOf(err))
	})

	t.Run("unsupported", func(t *testing.T) {
		err := NewWithPage(&fakePage{}, Config{}).Execute(context.Background(), params(action.Kind("teleport"), nil, nil))
		assert.Equal(t, operator.ReasonUnsupportedAction, operator.ReasonOf(err))
	})

	t.Run("wait honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := NewWithPage(&fakePage{}, Config{WaitDuration: time.Hour}).Execute(ctx, params(action.KindWait, nil, nil))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestHotkeyEvents(t *testing.T) {
	events, err := hotkeyEvents("ctrl+shift+t")
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, input.ModifierCtrl|input.ModifierShift, events[2].Modifiers)
	assert.Equal(t, "KeyT", events[2].Code)

	events, err = hotkeyEvents("f5")
	require.NoError(t, err)
	assert.Equal(t, "F5", events[0].Key)
	assert.Equal(t, int64(116), events[0].WindowsVirtualKeyCode)

	events, err = hotkeyEvents("shift")
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = hotkeyEvents("  ")
	assert.Error(t, err)
}
