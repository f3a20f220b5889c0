package schema

import (
	"fmt"
	"strings"
)

// Args collects bind parameters while a statement is assembled, numbering
// placeholders in the style of the target dialect.
type Args struct {
	placeholder func(int) string
	values      []any
}

func NewArgs(placeholder func(int) string) *Args {
	return &Args{placeholder: placeholder}
}

// Add appends a value and returns the placeholder that refers to it.
func (a *Args) Add(v any) string {
	p := a.placeholder(len(a.values))
	a.values = append(a.values, v)
	return p
}

func (a *Args) Values() []any {
	return a.values
}

// Bind rewrites a SQL fragment for the dialect:
//   - ${name} is replaced by a placeholder bound to props[name]
//   - each ? is replaced by a placeholder bound to the next value of params
//
// Text inside single-quoted literals is left alone. Every param must be consumed.
func (a *Args) Bind(fragment string, params []any, props map[string]any) (string, error) {
	var b strings.Builder
	next := 0
	inQuote := false
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case inQuote:
			b.WriteByte(c)
		case c == '$' && i+1 < len(fragment) && fragment[i+1] == '{':
			end := strings.IndexByte(fragment[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated property in %q", fragment)
			}
			name := fragment[i+2 : i+end]
			v, ok := props[name]
			if !ok {
				// viper lower-cases configured keys
				v, ok = props[strings.ToLower(name)]
			}
			if !ok {
				return "", fmt.Errorf("unknown property %q in %q", name, fragment)
			}
			b.WriteString(a.Add(v))
			i += end
		case c == '?':
			if next >= len(params) {
				return "", fmt.Errorf("not enough parameters for %q", fragment)
			}
			b.WriteString(a.Add(params[next]))
			next++
		default:
			b.WriteByte(c)
		}
	}
	if next != len(params) {
		return "", fmt.Errorf("%d parameters given for %q, %d used", len(params), fragment, next)
	}
	return b.String(), nil
}
