// Package marshal converts between gopher-lua values and the JSON-like
// values handed to callers.
//
// # Lua to Go
//
// [FromLua] maps nil, booleans, numbers and strings directly. Tables become
// either a []any or a map[string]any:
//
//	{10, 20, 30}      -> []any{10.0, 20.0, 30.0}
//	{a = 1, b = 2}    -> map[string]any{"a": 1.0, "b": 2.0}
//	{1, nil, 3}       -> map[string]any{"1": 1.0, "3": 3.0}
//
// A table is an array only when every key is a number, the number of keys
// equals its length and index 1 is set. Map keys that are not strings,
// numbers or booleans are dropped. Functions, userdata, coroutines and
// channels convert to nil; this is lossy and one-way.
//
// Tables nested deeper than [WithMaxDepth] fail with [ErrDepthExceeded].
// A table referenced from several places is expanded at each reference, so
// every call also carries a node budget ([WithMaxNodes]) and can be bound to
// a context ([WithContext]). Exceeding the budget fails with
// [ErrTooManyValues].
//
// # Go to Lua
//
// [ToLua] accepts scalar call arguments only: nil, bool, the float and
// signed integer types, small unsigned integers and strings. Anything else
// returns [ErrUnsupportedArgument].
package marshal
