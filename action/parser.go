package action

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFactor is the size of the square coordinate space the model emits
// boxes in.
const DefaultFactor = 1000

var (
	// ErrParse is returned when no action could be extracted from a reply.
	ErrParse = errors.New("unable to parse action")

	errMissingParam = errors.New("missing parameter")
	errInvalidBox   = errors.New("invalid box")
)

// Prediction is the structured content of one model reply.
type Prediction struct {
	Thought    string
	Reflection string
	Actions    []Parsed
	// Malformed holds the calls that were dropped while parsing.
	Malformed []Malformed
}

// Malformed is a call the parser could not turn into an action.
type Malformed struct {
	Raw string
	Err error
}

var (
	callPattern  = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\((.*)\)$`)
	blockSplit   = regexp.MustCompile(`\n\s*\n`)
	boxTokens    = strings.NewReplacer("<|box_start|>", "", "<|box_end|>", "", "<point>", "", "</point>", "", "<bbox>", "", "</bbox>", "")
	numberSplit  = regexp.MustCompile(`[\s,]+`)
	sectionNames = []string{"Reflection:", "Action_Summary:", "Thought:", "Action:"}
)

var kindAliases = map[string]Kind{
	"left_single":  KindClick,
	"left_click":   KindClick,
	"double_click": KindDoubleClick,
	"right_click":  KindRightClick,
	"mouse_move":   KindHover,
	"select":       KindDrag,
	"press":        KindHotkey,
	"open_url":     KindNavigate,
	"user_call":    KindCallUser,
}

// Parse extracts the thought and actions of a model reply. Box coordinates are
// divided by factor so the resulting boxes are normalized. Parse returns
// ErrParse when the reply carries no usable action; individual calls that fail
// to parse are reported in Prediction.Malformed.
func Parse(text string, factor float64) (*Prediction, error) {
	if factor <= 0 {
		factor = DefaultFactor
	}

	sections := splitSections(text)
	body, ok := sections["Action:"]
	if !ok {
		return nil, fmt.Errorf("%w: no Action section", ErrParse)
	}

	pred := &Prediction{
		Thought:    sections["Thought:"],
		Reflection: sections["Reflection:"],
	}
	if pred.Thought == "" {
		pred.Thought = sections["Action_Summary:"]
	}

	for _, block := range blockSplit.Split(body, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		act, err := parseCall(block, factor)
		if err != nil {
			pred.Malformed = append(pred.Malformed, Malformed{Raw: block, Err: err})
			continue
		}
		pred.Actions = append(pred.Actions, act)
	}

	if len(pred.Actions) == 0 {
		if len(pred.Malformed) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrParse, pred.Malformed[0].Err)
		}
		return nil, fmt.Errorf("%w: empty Action section", ErrParse)
	}
	return pred, nil
}

// splitSections cuts the reply at its "Name:" headers. When a header appears
// more than once the last line-leading occurrence wins.
func splitSections(text string) map[string]string {
	type mark struct {
		name string
		pos  int
	}
	var marks []mark
	for _, name := range sectionNames {
		// Prefer a header at a line start so "Action:" inside a thought does not match.
		idx := strings.LastIndex(text, "\n"+name)
		if idx >= 0 {
			idx++
		} else {
			idx = strings.LastIndex(text, name)
		}
		if idx < 0 {
			continue
		}
		marks = append(marks, mark{name: name, pos: idx})
	}

	out := make(map[string]string, len(marks))
	for _, m := range marks {
		end := len(text)
		for _, other := range marks {
			if other.pos > m.pos && other.pos < end {
				end = other.pos
			}
		}
		out[m.name] = strings.TrimSpace(text[m.pos+len(m.name) : end])
	}
	return out
}

func parseCall(call string, factor float64) (Parsed, error) {
	m := callPattern.FindStringSubmatch(call)
	if m == nil {
		return Parsed{}, fmt.Errorf("not a call expression: %q", call)
	}

	name := strings.ToLower(m[1])
	kind := Kind(name)
	if alias, ok := kindAliases[name]; ok {
		kind = alias
	}

	args, err := parseArgs(m[2])
	if err != nil {
		return Parsed{}, err
	}

	act := Parsed{Kind: kind, Raw: call}

	if v, ok := firstArg(args, "start_box", "point", "start_point"); ok {
		b, err := parseBox(v, factor)
		if err != nil {
			return Parsed{}, err
		}
		act.StartBox = &b
	}
	if v, ok := firstArg(args, "end_box", "end_point"); ok {
		b, err := parseBox(v, factor)
		if err != nil {
			return Parsed{}, err
		}
		act.EndBox = &b
	}
	if v, ok := firstArg(args, "content", "url"); ok {
		act.Content = v
	}
	if v, ok := firstArg(args, "key", "hotkey"); ok {
		act.Key = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := args["direction"]; ok {
		act.Direction = strings.ToLower(strings.TrimSpace(v))
	}

	if err := validate(act, args); err != nil {
		return Parsed{}, err
	}
	return act, nil
}

func validate(act Parsed, args map[string]string) error {
	switch act.Kind {
	case KindClick, KindDoubleClick, KindRightClick, KindHover:
		if act.StartBox == nil {
			return fmt.Errorf("%s: %w start_box", act.Kind, errMissingParam)
		}
	case KindDrag:
		if act.StartBox == nil || act.EndBox == nil {
			return fmt.Errorf("%s: %w start_box/end_box", act.Kind, errMissingParam)
		}
	case KindType:
		if _, ok := args["content"]; !ok {
			return fmt.Errorf("%s: %w content", act.Kind, errMissingParam)
		}
	case KindHotkey:
		if act.Key == "" {
			return fmt.Errorf("%s: %w key", act.Kind, errMissingParam)
		}
	case KindNavigate:
		if act.Content == "" {
			return fmt.Errorf("%s: %w url", act.Kind, errMissingParam)
		}
	case KindScroll:
		switch act.Direction {
		case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		default:
			return fmt.Errorf("%s: invalid direction %q", act.Kind, act.Direction)
		}
	}
	return nil
}

func firstArg(args map[string]string, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := args[n]; ok {
			return v, true
		}
	}
	return "", false
}

// parseArgs reads a comma separated list of key='value' pairs. Values may be
// single or double quoted; backslash escapes \n, \t, \' and \" are honoured.
func parseArgs(s string) (map[string]string, error) {
	args := map[string]string{}
	i := 0
	for {
		for i < len(s) && (s[i] == ' ' || s[i] == ',' || s[i] == '\n' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			return args, nil
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("malformed argument list %q", s)
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("argument %q has no value", key)
		}

		quote := s[i]
		if quote == '(' || quote == '[' {
			closer := byte(')')
			if quote == '[' {
				closer = ']'
			}
			end := strings.IndexByte(s[i:], closer)
			if end < 0 {
				return nil, fmt.Errorf("argument %q has an unterminated value", key)
			}
			args[key] = s[i : i+end+1]
			i += end + 1
			continue
		}
		if quote != '\'' && quote != '"' {
			// Unquoted value runs to the next comma.
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			args[key] = strings.TrimSpace(s[i : i+end])
			i += end
			continue
		}

		i++
		var sb strings.Builder
		closed := false
		for i < len(s) {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				switch s[i+1] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case '\\', '\'', '"':
					sb.WriteByte(s[i+1])
				default:
					sb.WriteByte(c)
					sb.WriteByte(s[i+1])
				}
				i += 2
				continue
			}
			if c == quote {
				closed = true
				i++
				break
			}
			sb.WriteByte(c)
			i++
		}
		if !closed {
			return nil, fmt.Errorf("argument %q has an unterminated value", key)
		}
		args[key] = sb.String()
	}
}

// parseBox accepts "(x,y)", "(x1,y1,x2,y2)", "[x1, y1, x2, y2]" or "x y",
// optionally wrapped in box tokens.
func parseBox(v string, factor float64) (Box, error) {
	v = strings.TrimSpace(boxTokens.Replace(v))
	v = strings.Trim(v, "()[] ")
	fields := numberSplit.Split(strings.TrimSpace(v), -1)

	nums := make([]float64, 0, 4)
	for _, f := range fields {
		if f == "" {
			continue
		}
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Box{}, fmt.Errorf("%w: %q", errInvalidBox, v)
		}
		nums = append(nums, n/factor)
	}

	switch len(nums) {
	case 2:
		return Box{X1: nums[0], Y1: nums[1], X2: nums[0], Y2: nums[1]}, nil
	case 4:
		return Box{X1: nums[0], Y1: nums[1], X2: nums[2], Y2: nums[3]}, nil
	default:
		return Box{}, fmt.Errorf("%w: %q has %d coordinates", errInvalidBox, v, len(nums))
	}
}
