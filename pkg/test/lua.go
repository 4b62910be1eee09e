package test

import (
	"strings"
	"testing"
	"time"

	"github.com/cosmotek/loguago"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// LuaInit defines the assertion helpers used by Lua test scripts.  Scripts that run as async
// listeners set `async = true` and report `test_ok` over a channel instead of raising.
const LuaInit = `
	local logger = require("logger")

	async = false
	test_ok = true

	-- With async: marks tests as failed via test_ok, logs error.
	-- Without async: erroring when tests fail.
	function assert_async(value, message)
		if not value then
			if async then
				logger.error(message, {from = "assert_async"})
				test_ok = false
			else
				error(message)
			end
		end
	end

	-- Renders any value for failure messages, including nil and booleans.
	local function show(v)
		if type(v) == "string" then
			return string.format("%q", v)
		end
		return tostring(v)
	end

	-- Verifies plain values and list-style tables.
	function assert_eq(got, want)
		if type(got) == "table" and type(want) == "table" then
			assert_async(#got == #want, string.format("got %d elements, wanted %d", #got, #want))
			for i, gotv in ipairs(got) do
				assert_eq(gotv, want[i])
			end
			return
		end

		assert_async(got == want, "got " .. show(got) .. ", wanted " .. show(want))
	end

	-- Verifies string got contains string want.
	function assert_contains(got, want)
		assert_async(type(got) == "string" and string.find(got, want, 1, true),
			"got " .. show(got) .. ", wanted it to contain " .. show(want))
	end
`

// NewLuaState creates a Lua LState with the logger module and the `LuaInit` helpers loaded.  The
// returned builder collects the log output.
func NewLuaState() (*lua.LState, *strings.Builder) {
	output := &strings.Builder{}
	logger := loguago.NewLogger(zerolog.New(output))

	ls := lua.NewState()
	ls.PreloadModule("logger", logger.Loader)
	if err := ls.DoString(LuaInit); err != nil {
		panic(err)
	}

	return ls, output
}

// AssertNotified requires a truthy LValue on the notify channel.
func AssertNotified(t *testing.T, notify chan lua.LValue) {
	t.Helper()
	select {
	case reslv := <-notify:
		if lua.LVIsFalse(reslv) {
			t.Error("Lua responded with false, wanted true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Lua did not respond to event within timeout")
	}
}
