// Package vkscript compiles a list of method calls into the VKScript
// source VK's execute method expects: a sequence of API.<name>(<params>)
// assignments followed by a return of every result in call order.
package vkscript

import (
	"fmt"
	"strings"
)

// MaxCalls is the most calls a single execute script may contain. VK
// rejects scripts with more nested API calls than this.
const MaxCalls = 25

// Call is one method invocation to compile into the script. Compile takes
// its own Call type rather than a caller's method type so this package
// has no dependency on anything outside the standard library.
type Call struct {
	Name string
	// JSONParams is the call's parameters, already rendered as a JSON
	// object literal, e.g. `{"user_id":"1"}`.
	JSONParams string
}

// Compile builds the VKScript source for calls. It rejects an empty list
// and a list longer than MaxCalls, and rejects any call named "execute":
// nesting execute inside execute is not something VK's API supports and
// would defeat the purpose of the dispatcher building the script itself.
func Compile(calls []Call) (string, error) {
	if len(calls) == 0 {
		return "", fmt.Errorf("vkscript: no calls to compile")
	}
	if len(calls) > MaxCalls {
		return "", fmt.Errorf("vkscript: %d calls exceeds the %d-call limit", len(calls), MaxCalls)
	}

	var b strings.Builder
	results := make([]string, len(calls))
	for i, c := range calls {
		if strings.HasPrefix(strings.ToLower(c.Name), "execute") {
			return "", fmt.Errorf("vkscript: call %d: %q is a reserved method name", i, c.Name)
		}
		params := c.JSONParams
		if params == "" {
			params = "{}"
		}
		result := fmt.Sprintf("result%d", i)
		results[i] = result
		fmt.Fprintf(&b, "var %s = API.%s(%s);", result, c.Name, params)
	}
	b.WriteString("return [")
	b.WriteString(strings.Join(results, ","))
	b.WriteString("];")
	return b.String(), nil
}
