package luahost

import (
	"fmt"

	"github.com/inbucket/bookmailer/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const outboundMessageName = "outbound_message"

func registerOutboundMessageType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(outboundMessageName)
	ls.SetGlobal(outboundMessageName, mt)

	// Static attributes.
	ls.SetField(mt, "new", ls.NewFunction(newOutboundMessage))

	// Methods.
	ls.SetField(mt, "__index", ls.NewFunction(outboundMessageIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(outboundMessageNewIndex))
}

// newOutboundMessage creates an empty message, or a copy of the message argument.
func newOutboundMessage(ls *lua.LState) int {
	val := &event.OutboundMessage{}
	if ls.GetTop() >= 1 {
		*val = *checkOutboundMessage(ls, 1)
	}
	ls.Push(wrapOutboundMessage(ls, val))

	return 1
}

func wrapOutboundMessage(ls *lua.LState, val *event.OutboundMessage) *lua.LUserData {
	return wrapUserData(ls, val, outboundMessageName)
}

// Checks there is an OutboundMessage at stack position `pos`, else throws Lua error.
func checkOutboundMessage(ls *lua.LState, pos int) *event.OutboundMessage {
	return checkUserData[event.OutboundMessage](ls, pos, outboundMessageName)
}

func unwrapOutboundMessage(lv lua.LValue) (*event.OutboundMessage, error) {
	if ud, ok := lv.(*lua.LUserData); ok {
		if v, ok := ud.Value.(*event.OutboundMessage); ok {
			return v, nil
		}
	}

	return nil, fmt.Errorf("expected OutboundMessage, got %q", lv.Type().String())
}

// Gets a field value from OutboundMessage user object.  This emulates a Lua table,
// allowing `msg.subject` instead of a Lua object syntax of `msg:subject()`.
func outboundMessageIndex(ls *lua.LState) int {
	m := checkOutboundMessage(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "from":
		ls.Push(lua.LString(m.From))
	case "to":
		ls.Push(lua.LString(m.To))
	case "subject":
		ls.Push(lua.LString(m.Subject))
	case "text":
		ls.Push(lua.LString(m.Text))
	case "filename":
		ls.Push(lua.LString(m.Filename))
	case "size":
		ls.Push(lua.LNumber(m.Size))
	default:
		// Unknown field.
		ls.Push(lua.LNil)
	}

	return 1
}

// Sets a field value on OutboundMessage user object.  This emulates a Lua table,
// allowing `msg.subject = x` instead of a Lua object syntax of `msg:subject(x)`.
func outboundMessageNewIndex(ls *lua.LState) int {
	m := checkOutboundMessage(ls, 1)
	index := ls.CheckString(2)

	switch index {
	case "from":
		m.From = ls.CheckString(3)
	case "to":
		m.To = ls.CheckString(3)
	case "subject":
		m.Subject = ls.CheckString(3)
	case "text":
		m.Text = ls.CheckString(3)
	case "filename":
		m.Filename = ls.CheckString(3)
	case "size":
		ls.RaiseError("size is read-only")
	default:
		ls.RaiseError("invalid index %q", index)
	}

	return 0
}
