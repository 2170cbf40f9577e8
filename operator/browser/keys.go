package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
)

type keyDef struct {
	key  string
	code string
	vk   int64
	text string
}

var namedKeys = map[string]keyDef{
	"enter":      {key: "Enter", code: "Enter", vk: 13, text: "\r"},
	"return":     {key: "Enter", code: "Enter", vk: 13, text: "\r"},
	"tab":        {key: "Tab", code: "Tab", vk: 9},
	"escape":     {key: "Escape", code: "Escape", vk: 27},
	"esc":        {key: "Escape", code: "Escape", vk: 27},
	"backspace":  {key: "Backspace", code: "Backspace", vk: 8},
	"delete":     {key: "Delete", code: "Delete", vk: 46},
	"space":      {key: " ", code: "Space", vk: 32, text: " "},
	"up":         {key: "ArrowUp", code: "ArrowUp", vk: 38},
	"arrowup":    {key: "ArrowUp", code: "ArrowUp", vk: 38},
	"down":       {key: "ArrowDown", code: "ArrowDown", vk: 40},
	"arrowdown":  {key: "ArrowDown", code: "ArrowDown", vk: 40},
	"left":       {key: "ArrowLeft", code: "ArrowLeft", vk: 37},
	"arrowleft":  {key: "ArrowLeft", code: "ArrowLeft", vk: 37},
	"right":      {key: "ArrowRight", code: "ArrowRight", vk: 39},
	"arrowright": {key: "ArrowRight", code: "ArrowRight", vk: 39},
	"home":       {key: "Home", code: "Home", vk: 36},
	"end":        {key: "End", code: "End", vk: 35},
	"pageup":     {key: "PageUp", code: "PageUp", vk: 33},
	"pagedown":   {key: "PageDown", code: "PageDown", vk: 34},
}

type modifierDef struct {
	flag input.Modifier
	key  keyDef
}

var modifierKeys = map[string]modifierDef{
	"ctrl":    {flag: input.ModifierCtrl, key: keyDef{key: "Control", code: "ControlLeft", vk: 17}},
	"control": {flag: input.ModifierCtrl, key: keyDef{key: "Control", code: "ControlLeft", vk: 17}},
	"shift":   {flag: input.ModifierShift, key: keyDef{key: "Shift", code: "ShiftLeft", vk: 16}},
	"alt":     {flag: input.ModifierAlt, key: keyDef{key: "Alt", code: "AltLeft", vk: 18}},
	"option":  {flag: input.ModifierAlt, key: keyDef{key: "Alt", code: "AltLeft", vk: 18}},
	"meta":    {flag: input.ModifierMeta, key: keyDef{key: "Meta", code: "MetaLeft", vk: 91}},
	"cmd":     {flag: input.ModifierMeta, key: keyDef{key: "Meta", code: "MetaLeft", vk: 91}},
	"command": {flag: input.ModifierMeta, key: keyDef{key: "Meta", code: "MetaLeft", vk: 91}},
}

// hotkeyEvents turns "ctrl c" or "ctrl+shift+t" into the key down and up
// events of the combination.
func hotkeyEvents(combo string) ([]*input.DispatchKeyEventParams, error) {
	fields := strings.FieldsFunc(strings.ToLower(combo), func(r rune) bool {
		return r == ' ' || r == '+'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty key combination")
	}

	var (
		mods     []modifierDef
		flags    input.Modifier
		mainKeys []keyDef
	)
	for _, f := range fields {
		if m, ok := modifierKeys[f]; ok {
			mods = append(mods, m)
			flags |= m.flag
			continue
		}
		k, err := lookupKey(f)
		if err != nil {
			return nil, err
		}
		mainKeys = append(mainKeys, k)
	}
	if len(mainKeys) == 0 {
		// A lone modifier is pressed and released.
		for _, m := range mods {
			mainKeys = append(mainKeys, m.key)
		}
		mods = nil
	}

	var events []*input.DispatchKeyEventParams
	var held input.Modifier
	for _, m := range mods {
		held |= m.flag
		events = append(events, keyEvent(input.KeyRawDown, m.key, held))
	}
	for _, k := range mainKeys {
		down := input.KeyRawDown
		if k.text != "" && flags&(input.ModifierCtrl|input.ModifierAlt|input.ModifierMeta) == 0 {
			down = input.KeyDown
		} else {
			k.text = ""
		}
		events = append(events, keyEvent(down, k, flags))
		events = append(events, keyEvent(input.KeyUp, k, flags))
	}
	for i := len(mods) - 1; i >= 0; i-- {
		held &^= mods[i].flag
		events = append(events, keyEvent(input.KeyUp, mods[i].key, held))
	}
	return events, nil
}

func lookupKey(name string) (keyDef, error) {
	if k, ok := namedKeys[name]; ok {
		return k, nil
	}
	if len(name) > 1 && name[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(name, "f%d", &n); err == nil && n >= 1 && n <= 12 {
			return keyDef{key: strings.ToUpper(name), code: strings.ToUpper(name), vk: int64(111 + n)}, nil
		}
	}
	if len(name) != 1 {
		return keyDef{}, fmt.Errorf("unknown key %q", name)
	}

	c := name[0]
	switch {
	case c >= 'a' && c <= 'z':
		upper := c - 'a' + 'A'
		return keyDef{key: name, code: "Key" + string(rune(upper)), vk: int64(upper), text: name}, nil
	case c >= '0' && c <= '9':
		return keyDef{key: name, code: "Digit" + name, vk: int64(c), text: name}, nil
	}
	return keyDef{key: name, vk: int64(c), text: name}, nil
}

func keyEvent(t input.KeyType, k keyDef, mods input.Modifier) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(t).
		WithKey(k.key).
		WithCode(k.code).
		WithWindowsVirtualKeyCode(k.vk).
		WithNativeVirtualKeyCode(k.vk).
		WithModifiers(mods)
	if t == input.KeyDown && k.text != "" {
		p = p.WithText(k.text).WithUnmodifiedText(k.text)
	}
	return p
}
