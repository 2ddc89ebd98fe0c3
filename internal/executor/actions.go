package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Action names understood by the default registry
const (
	ActionClick    = "click_element"
	ActionSetValue = "set_value"
	ActionNavigate = "navigate_to"
)

// Argument keys
const (
	ArgElementID = "element_id"
	ArgValue     = "value"
	ArgScreen    = "screen"
)

// Action is a single named UI operation produced by the planner
type Action struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Arg returns args[key] rendered as a string. Planners sometimes send
// numbers or booleans for values, so scalars are formatted.
func (a Action) Arg(key string) (string, bool) {
	v, ok := a.Args[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// String renders the action for logs and progress output
func (a Action) String() string {
	switch a.Name {
	case ActionClick:
		id, _ := a.Arg(ArgElementID)
		return fmt.Sprintf("%s(%s)", a.Name, id)
	case ActionSetValue:
		id, _ := a.Arg(ArgElementID)
		v, _ := a.Arg(ArgValue)
		return fmt.Sprintf("%s(%s, %q)", a.Name, id, v)
	case ActionNavigate:
		s, _ := a.Arg(ArgScreen)
		return fmt.Sprintf("%s(%s)", a.Name, s)
	}
	if len(a.Args) == 0 {
		return a.Name
	}
	keys := make([]string, 0, len(a.Args))
	for k := range a.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(keys, ", "))
}

// Result reports the outcome of one action. A failed lookup is a normal
// result, never an error.
type Result struct {
	Success bool   `json:"success"`
	Type    string `json:"type"`             // click | set_value | navigate | unknown
	State   string `json:"state,omitempty"`  // set on success
	Reason  string `json:"reason,omitempty"` // set on failure
}

// ActionResult is the per-action entry stored in a step record
type ActionResult struct {
	Result Result `json:"result"`
}

func succeeded(typ, state string) Result {
	return Result{Success: true, Type: typ, State: state}
}

func failed(typ, reason string) Result {
	return Result{Success: false, Type: typ, Reason: reason}
}
