package filesystem

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
)

func setupFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/docs", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/docs/readme.md", []byte("# docs\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/notes.txt", []byte("hello\nworld\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte(""), 0o644))
	return fs
}

// at builds params for an action aimed at the middle of a listing row.
func at(op *Operator, kind action.Kind, row int) operator.ExecuteParams {
	return operator.ExecuteParams{
		Action:       action.Parsed{Kind: kind, Start: &action.Point{X: 50, Y: op.screen.RowCenter(row)}},
		ScreenWidth:  op.cfg.Width,
		ScreenHeight: op.cfg.Height,
		ScaleFactor:  1,
	}
}

func TestOperator_Listing(t *testing.T) {
	op := New(setupFS(t), Config{})

	rows, highlight, err := op.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{".. (/)", "docs/", "a.txt", "notes.txt"}, rows)
	assert.Equal(t, -1, highlight)

	require.NoError(t, op.Execute(context.Background(), at(op, action.KindClick, 2)))
	_, highlight, err = op.Rows()
	require.NoError(t, err)
	assert.Equal(t, 2, highlight)
}

func TestOperator_Navigation(t *testing.T) {
	op := New(setupFS(t), Config{})
	ctx := context.Background()

	require.NoError(t, op.Execute(ctx, at(op, action.KindDoubleClick, 1)))
	assert.Equal(t, "/docs", op.Cwd())
	rows, _, err := op.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{".. (/docs)", "readme.md"}, rows)

	require.NoError(t, op.Execute(ctx, at(op, action.KindDoubleClick, 0)))
	assert.Equal(t, "/", op.Cwd())

	require.NoError(t, op.Execute(ctx, at(op, action.KindDoubleClick, 3)))
	assert.Equal(t, "/notes.txt", op.Viewing())
	rows, _, err = op.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{".. (/notes.txt)", "hello", "world"}, rows)

	require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindHotkey, Key: "escape"}}))
	assert.Empty(t, op.Viewing())
}

func TestOperator_ScaleFactor(t *testing.T) {
	op := New(setupFS(t), Config{})

	params := at(op, action.KindClick, 3)
	params.Action.Start = &action.Point{X: 100, Y: op.screen.RowCenter(3) * 2}
	params.ScaleFactor = 2
	require.NoError(t, op.Execute(context.Background(), params))

	_, highlight, err := op.Rows()
	require.NoError(t, err)
	assert.Equal(t, 3, highlight)
}

func TestOperator_Typing(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a new file when nothing is selected", func(t *testing.T) {
		fs := setupFS(t)
		op := New(fs, Config{})
		require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindType, Content: "draft"}}))
		data, err := afero.ReadFile(fs, "/"+NewFileName)
		require.NoError(t, err)
		assert.Equal(t, "draft", string(data))
	})

	t.Run("appends to the selected file", func(t *testing.T) {
		fs := setupFS(t)
		op := New(fs, Config{})
		require.NoError(t, op.Execute(ctx, at(op, action.KindClick, 3)))
		require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindType, Content: "again\n"}}))
		data, err := afero.ReadFile(fs, "/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, "hello\nworld\nagain\n", string(data))
	})

	t.Run("appends to the viewed file", func(t *testing.T) {
		fs := setupFS(t)
		op := New(fs, Config{})
		require.NoError(t, op.Execute(ctx, at(op, action.KindDoubleClick, 2)))
		require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindType, Content: "x"}}))
		data, err := afero.ReadFile(fs, "/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "x", string(data))
	})

	t.Run("directories cannot be typed into", func(t *testing.T) {
		op := New(setupFS(t), Config{})
		require.NoError(t, op.Execute(ctx, at(op, action.KindClick, 1)))
		err := op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindType, Content: "x"}})
		assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))
	})
}

func TestOperator_Delete(t *testing.T) {
	ctx := context.Background()
	fs := setupFS(t)
	op := New(fs, Config{})

	del := operator.ExecuteParams{Action: action.Parsed{Kind: action.KindHotkey, Key: "delete"}}
	err := op.Execute(ctx, del)
	assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))

	require.NoError(t, op.Execute(ctx, at(op, action.KindClick, 1)))
	require.NoError(t, op.Execute(ctx, del))

	exists, err := afero.DirExists(fs, "/docs")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOperator_Misses(t *testing.T) {
	ctx := context.Background()
	op := New(setupFS(t), Config{})

	err := op.Execute(ctx, at(op, action.KindClick, 10))
	assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))

	params := at(op, action.KindClick, 1)
	params.Action.Start = &action.Point{X: 50, Y: 5000}
	err = op.Execute(ctx, params)
	assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))

	err = op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindClick}})
	assert.Equal(t, operator.ReasonTargetNotFound, operator.ReasonOf(err))

	err = op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindDrag}})
	assert.Equal(t, operator.ReasonUnsupportedAction, operator.ReasonOf(err))

	// A failed execute leaves the surface capturable.
	shot, err := op.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 800, shot.Width)
	assert.Equal(t, 600, shot.Height)
}

func TestOperator_Scroll(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.NoError(t, afero.WriteFile(fs, "/"+name, nil, 0o644))
	}
	// Room for the header and three entries.
	op := New(fs, Config{Width: 200, Height: 16 + 4*18})
	ctx := context.Background()

	rows, _, err := op.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{".. (/)", "a", "b", "c"}, rows)

	require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindScroll, Direction: action.DirectionDown}}))
	rows, _, err = op.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{".. (/)", "d", "e", "f"}, rows)

	require.NoError(t, op.Execute(ctx, at(op, action.KindClick, 1)))
	require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindHotkey, Key: "delete"}}))
	exists, err := afero.Exists(fs, "/d")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, op.Execute(ctx, operator.ExecuteParams{Action: action.Parsed{Kind: action.KindScroll, Direction: action.DirectionUp}}))
	rows, _, err = op.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{".. (/)", "a", "b", "c"}, rows)
}
