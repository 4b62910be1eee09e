package luahost

import (
	"github.com/inbucket/bookmailer/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const deliveryResultName = "delivery_result"

func registerDeliveryResultType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(deliveryResultName)
	ls.SetGlobal(deliveryResultName, mt)

	// Read-only.
	ls.SetField(mt, "__index", ls.NewFunction(deliveryResultIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(func(ls *lua.LState) int {
		ls.RaiseError("delivery_result is read-only")
		return 0
	}))
}

func wrapDeliveryResult(ls *lua.LState, val *event.DeliveryResult) *lua.LUserData {
	return wrapUserData(ls, val, deliveryResultName)
}

// Gets a field value from DeliveryResult user object.  duration is in seconds, error is nil on
// success.
func deliveryResultIndex(ls *lua.LState) int {
	r := checkUserData[event.DeliveryResult](ls, 1, deliveryResultName)
	field := ls.CheckString(2)

	switch field {
	case "message":
		msg := r.Message
		ls.Push(wrapOutboundMessage(ls, &msg))
	case "server":
		ls.Push(lua.LString(r.Server))
	case "verified":
		ls.Push(lua.LBool(r.Verified))
	case "duration":
		ls.Push(lua.LNumber(r.Duration.Seconds()))
	case "success":
		ls.Push(lua.LBool(r.Success()))
	case "error":
		if r.Success() {
			ls.Push(lua.LNil)
		} else {
			ls.Push(lua.LString(r.Error))
		}
	default:
		ls.Push(lua.LNil)
	}

	return 1
}
