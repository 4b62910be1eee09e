package luahost

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

const (
	bookmailerName       = "bookmailer"
	bookmailerBeforeName = "bookmailer_before"
	bookmailerAfterName  = "bookmailer_after"
)

// Bookmailer is the value behind the `bookmailer` Lua global, holding the event functions the
// script assigned.
type Bookmailer struct {
	After  BookmailerAfterFuncs
	Before BookmailerBeforeFuncs
}

// BookmailerAfterFuncs holds the bookmailer.after functions.
type BookmailerAfterFuncs struct {
	MessageSent       *lua.LFunction
	RecipientVerified *lua.LFunction
}

// BookmailerBeforeFuncs holds the bookmailer.before functions.
type BookmailerBeforeFuncs struct {
	MessageSent *lua.LFunction
}

func registerBookmailerTypes(ls *lua.LState) {
	// bookmailer type.
	mt := ls.NewTypeMetatable(bookmailerName)
	ls.SetField(mt, "__index", ls.NewFunction(bookmailerIndex))

	// bookmailer.after type.
	mt = ls.NewTypeMetatable(bookmailerAfterName)
	ls.SetField(mt, "__index", ls.NewFunction(bookmailerAfterIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(bookmailerAfterNewIndex))

	// bookmailer.before type.
	mt = ls.NewTypeMetatable(bookmailerBeforeName)
	ls.SetField(mt, "__index", ls.NewFunction(bookmailerBeforeIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(bookmailerBeforeNewIndex))

	// bookmailer global.
	ud := ls.NewUserData()
	ud.Value = &Bookmailer{}
	ls.SetMetatable(ud, ls.GetTypeMetatable(bookmailerName))
	ls.SetGlobal(bookmailerName, ud)
}

func wrapUserData(ls *lua.LState, val any, typeName string) *lua.LUserData {
	ud := ls.NewUserData()
	ud.Value = val
	ls.SetMetatable(ud, ls.GetTypeMetatable(typeName))
	return ud
}

func getBookmailer(ls *lua.LState) (*Bookmailer, error) {
	lv := ls.GetGlobal(bookmailerName)
	if lv == nil || lv == lua.LNil {
		return nil, errors.New("bookmailer object was nil")
	}

	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, fmt.Errorf("bookmailer object was type %s instead of UserData", lv.Type())
	}

	val, ok := ud.Value.(*Bookmailer)
	if !ok {
		return nil, fmt.Errorf("bookmailer object (%v) could not be cast", ud.Value)
	}

	return val, nil
}

func checkUserData[T any](ls *lua.LState, pos int, typeName string) *T {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(*T); ok {
		return val
	}
	ls.ArgError(pos, typeName+" expected")
	return nil
}

// bookmailer getter.
func bookmailerIndex(ls *lua.LState) int {
	bm := checkUserData[Bookmailer](ls, 1, bookmailerName)
	field := ls.CheckString(2)

	switch field {
	case "after":
		ls.Push(wrapUserData(ls, &bm.After, bookmailerAfterName))
	case "before":
		ls.Push(wrapUserData(ls, &bm.Before, bookmailerBeforeName))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// bookmailer.after getter.
func bookmailerAfterIndex(ls *lua.LState) int {
	after := checkUserData[BookmailerAfterFuncs](ls, 1, bookmailerAfterName)
	field := ls.CheckString(2)

	switch field {
	case "message_sent":
		ls.Push(funcOrNil(after.MessageSent))
	case "recipient_verified":
		ls.Push(funcOrNil(after.RecipientVerified))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// bookmailer.after setter.
func bookmailerAfterNewIndex(ls *lua.LState) int {
	after := checkUserData[BookmailerAfterFuncs](ls, 1, bookmailerAfterName)
	index := ls.CheckString(2)

	switch index {
	case "message_sent":
		after.MessageSent = ls.CheckFunction(3)
	case "recipient_verified":
		after.RecipientVerified = ls.CheckFunction(3)
	default:
		ls.RaiseError("invalid bookmailer.after index %q", index)
	}

	return 0
}

// bookmailer.before getter.
func bookmailerBeforeIndex(ls *lua.LState) int {
	before := checkUserData[BookmailerBeforeFuncs](ls, 1, bookmailerBeforeName)
	field := ls.CheckString(2)

	switch field {
	case "message_sent":
		ls.Push(funcOrNil(before.MessageSent))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// bookmailer.before setter.
func bookmailerBeforeNewIndex(ls *lua.LState) int {
	before := checkUserData[BookmailerBeforeFuncs](ls, 1, bookmailerBeforeName)
	index := ls.CheckString(2)

	switch index {
	case "message_sent":
		before.MessageSent = ls.CheckFunction(3)
	default:
		ls.RaiseError("invalid bookmailer.before index %q", index)
	}

	return 0
}

func funcOrNil(f *lua.LFunction) lua.LValue {
	if f == nil {
		return lua.LNil
	}

	return f
}
