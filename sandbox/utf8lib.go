package sandbox

import (
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"
)

// UTF8LibName is the global name of the utf8 library.
const UTF8LibName = "utf8"

const utf8CharPattern = "[\x00-\x7F\xC2-\xF4][\x80-\xBF]*"

const (
	surrogateMin = 0xD800
	surrogateMax = 0xDFFF
)

var utf8Funcs = map[string]lua.LGFunction{
	"char":      utf8Char,
	"codepoint": utf8Codepoint,
	"codes":     utf8Codes,
	"len":       utf8Len,
	"offset":    utf8Offset,
}

// OpenUTF8 opens a Lua 5.3 compatible utf8 library, which gopher-lua lacks.
func OpenUTF8(L *lua.LState) int {
	mod := L.RegisterModule(UTF8LibName, utf8Funcs).(*lua.LTable)
	mod.RawSetString("charpattern", lua.LString(utf8CharPattern))
	L.Push(mod)
	return 1
}

// posrelat converts a possibly negative 1-based position.
func posrelat(pos, n int) int {
	if pos >= 0 {
		return pos
	}
	if -pos > n {
		return 0
	}
	return n + pos + 1
}

func isCont(s string, i int) bool {
	return i < len(s) && s[i]&0xC0 == 0x80
}

// appendCodePoint encodes r like Lua does. Unlike utf8.AppendRune it keeps
// surrogate halves as their raw three-byte form.
func appendCodePoint(buf []byte, r rune) []byte {
	if r < surrogateMin || r > surrogateMax {
		return utf8.AppendRune(buf, r)
	}
	return append(buf, 0xE0|byte(r>>12), 0x80|byte(r>>6)&0x3F, 0x80|byte(r)&0x3F)
}

// decodeCodePoint is utf8.DecodeRuneInString that also accepts encoded
// surrogates, matching appendCodePoint.
func decodeCodePoint(s string) (rune, int) {
	if len(s) >= 3 && s[0] == 0xED && s[1] >= 0xA0 && s[1] <= 0xBF && isCont(s, 2) {
		return rune(s[0]&0x0F)<<12 | rune(s[1]&0x3F)<<6 | rune(s[2]&0x3F), 3
	}
	return utf8.DecodeRuneInString(s)
}

func utf8Char(L *lua.LState) int {
	n := L.GetTop()
	buf := make([]byte, 0, n)
	for i := 1; i <= n; i++ {
		code := L.CheckInt(i)
		if code < 0 || code > utf8.MaxRune {
			L.ArgError(i, "value out of range")
		}
		buf = appendCodePoint(buf, rune(code))
	}
	L.Push(lua.LString(buf))
	return 1
}

func utf8Codepoint(L *lua.LState) int {
	s := L.CheckString(1)
	posi := posrelat(L.OptInt(2, 1), len(s))
	pose := posrelat(L.OptInt(3, posi), len(s))
	if posi < 1 {
		L.ArgError(2, "out of range")
	}
	if pose > len(s) {
		L.ArgError(3, "out of range")
	}
	if posi > pose {
		return 0
	}
	n := 0
	for p := posi - 1; p < pose; {
		r, size := decodeCodePoint(s[p:])
		if r == utf8.RuneError && size <= 1 {
			L.RaiseError("invalid UTF-8 code")
		}
		L.Push(lua.LNumber(r))
		n++
		p += size
	}
	return n
}

func utf8Len(L *lua.LState) int {
	s := L.CheckString(1)
	posi := posrelat(L.OptInt(2, 1), len(s))
	posj := posrelat(L.OptInt(3, -1), len(s))
	if posi < 1 || posi-1 > len(s) {
		L.ArgError(2, "initial position out of string")
	}
	if posj > len(s) {
		L.ArgError(3, "final position out of string")
	}
	n := 0
	for p := posi - 1; p < posj; {
		r, size := decodeCodePoint(s[p:])
		if r == utf8.RuneError && size <= 1 {
			L.Push(lua.LNil)
			L.Push(lua.LNumber(p + 1))
			return 2
		}
		p += size
		n++
	}
	L.Push(lua.LNumber(n))
	return 1
}

func utf8Offset(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	def := 1
	if n < 0 {
		def = len(s) + 1
	}
	posi := posrelat(L.OptInt(3, def), len(s))
	if posi < 1 || posi-1 > len(s) {
		L.ArgError(3, "position out of range")
	}
	posi--

	if n == 0 {
		for posi > 0 && isCont(s, posi) {
			posi--
		}
		L.Push(lua.LNumber(posi + 1))
		return 1
	}
	if isCont(s, posi) {
		L.RaiseError("initial position is a continuation byte")
	}
	if n < 0 {
		for n < 0 && posi > 0 {
			posi--
			for posi > 0 && isCont(s, posi) {
				posi--
			}
			n++
		}
	} else {
		n--
		for n > 0 && posi < len(s) {
			posi++
			for isCont(s, posi) {
				posi++
			}
			n--
		}
	}
	if n != 0 {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(posi + 1))
	return 1
}

func utf8Codes(L *lua.LState) int {
	s := L.CheckString(1)
	L.Push(L.NewFunction(utf8CodesIter))
	L.Push(lua.LString(s))
	L.Push(lua.LNumber(0))
	return 3
}

func utf8CodesIter(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2) - 1
	if n < 0 {
		n = 0
	} else if n < len(s) {
		n++
		for isCont(s, n) {
			n++
		}
	}
	if n >= len(s) {
		return 0
	}
	r, size := decodeCodePoint(s[n:])
	if r == utf8.RuneError && size <= 1 {
		L.RaiseError("invalid UTF-8 code")
	}
	L.Push(lua.LNumber(n + 1))
	L.Push(lua.LNumber(r))
	return 2
}
