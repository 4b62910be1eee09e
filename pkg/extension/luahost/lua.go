// Package luahost runs Lua scripts as listeners of bookmailer extension events.
package luahost

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/extension"
	"github.com/inbucket/bookmailer/pkg/extension/event"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

const listenerName = "lua"

// Host of Lua extensions.
type Host struct {
	Functions  []string // Functions detected in lua script.
	extHost    *extension.Host
	pool       *statePool
	logContext zerolog.Context
}

// New constructs a new Lua Host, pre-compiling the source.  A missing script is not an error,
// nil is returned instead.
func New(conf config.Lua, logger zerolog.Logger, extHost *extension.Host) (*Host, error) {
	scriptPath := conf.Path
	if scriptPath == "" {
		return nil, nil
	}

	startLogger := logger.With().Str("module", "lua").Str("phase", "startup").
		Str("path", scriptPath).Logger()

	// Pre-load, parse, and compile script.
	if fi, err := os.Stat(scriptPath); err != nil {
		startLogger.Info().Msg("Script file not found")
		return nil, nil
	} else if fi.IsDir() {
		return nil, fmt.Errorf("lua script %v is a directory", scriptPath)
	}

	startLogger.Info().Msg("Loading script")
	file, err := os.Open(scriptPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return NewFromReader(logger, extHost, bufio.NewReader(file), scriptPath)
}

// NewFromReader constructs a new Lua Host, loading Lua source from the provided reader.
// The provided path is used in logging and error messages.
func NewFromReader(logger zerolog.Logger, extHost *extension.Host, r io.Reader, path string) (*Host, error) {
	logContext := logger.With().Str("module", "lua")

	// Pre-parse, and compile script.
	chunk, err := parse.Parse(r, path)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, err
	}

	// Build the pool and confirm LState is retrievable.
	pool := newStatePool(logger, proto)
	h := &Host{extHost: extHost, pool: pool, logContext: logContext}
	ls, err := pool.getState()
	if err != nil {
		return nil, err
	}
	h.wireFunctions(logContext.Logger(), ls)
	pool.putState(ls)

	return h, nil
}

// CreateChannel creates a channel and places it into the named global variable
// in newly created LStates.
func (h *Host) CreateChannel(name string) chan lua.LValue {
	return h.pool.createChannel(name)
}

// Close releases the pooled Lua states.
func (h *Host) Close() {
	h.pool.close()
}

// wireFunctions registers a listener for each event function the script defined.
func (h *Host) wireFunctions(logger zerolog.Logger, ls *lua.LState) {
	bm, err := getBookmailer(ls)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get bookmailer object")
		return
	}

	events := h.extHost.Events
	if bm.Before.MessageSent != nil {
		events.BeforeMessageSent.AddListener(listenerName, h.handleBeforeMessageSent)
		h.Functions = append(h.Functions, "before.message_sent")
	}
	if bm.After.MessageSent != nil {
		events.AfterMessageSent.AddListener(listenerName, h.handleAfterMessageSent)
		h.Functions = append(h.Functions, "after.message_sent")
	}
	if bm.After.RecipientVerified != nil {
		events.AfterRecipientVerified.AddListener(listenerName, h.handleAfterRecipientVerified)
		h.Functions = append(h.Functions, "after.recipient_verified")
	}

	logger.Debug().Strs("functions", h.Functions).Msg("Wired Lua functions")
}

func (h *Host) handleBeforeMessageSent(msg event.OutboundMessage) *event.OutboundMessage {
	logger, ls, bm, ok := h.prepareFuncCall("before.message_sent")
	if !ok {
		return nil
	}
	defer h.pool.putState(ls)

	// Call lua function.
	if err := ls.CallByParam(
		lua.P{Fn: bm.Before.MessageSent, NRet: 1, Protect: true},
		wrapOutboundMessage(ls, &msg),
	); err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
		return nil
	}
	lval := ls.Get(1)
	ls.Pop(1)
	if lval == lua.LNil {
		return nil
	}

	result, err := unwrapOutboundMessage(lval)
	if err != nil {
		logger.Error().Err(err).Msg("Bad response from Lua function")
		return nil
	}
	logger.Debug().Str("to", result.To).Str("subject", result.Subject).
		Msg("Lua replaced outbound message")
	return result
}

func (h *Host) handleAfterMessageSent(result event.DeliveryResult) {
	h.callAfter("after.message_sent", result, func(bm *Bookmailer) *lua.LFunction {
		return bm.After.MessageSent
	})
}

func (h *Host) handleAfterRecipientVerified(result event.DeliveryResult) {
	h.callAfter("after.recipient_verified", result, func(bm *Bookmailer) *lua.LFunction {
		return bm.After.RecipientVerified
	})
}

func (h *Host) callAfter(name string, result event.DeliveryResult,
	fn func(*Bookmailer) *lua.LFunction) {
	logger, ls, bm, ok := h.prepareFuncCall(name)
	if !ok {
		return
	}
	defer h.pool.putState(ls)

	if err := ls.CallByParam(
		lua.P{Fn: fn(bm), NRet: 0, Protect: true},
		wrapDeliveryResult(ls, &result),
	); err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
	}
}

// prepareFuncCall obtains a pooled LState and its bookmailer object.  The caller must return
// the LState to the pool when ok.
func (h *Host) prepareFuncCall(funcName string) (logger zerolog.Logger, ls *lua.LState,
	bm *Bookmailer, ok bool) {
	logger = h.logContext.Str("event", funcName).Logger()

	ls, err := h.pool.getState()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get Lua state instance from pool")
		return logger, nil, nil, false
	}

	bm, err = getBookmailer(ls)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to obtain Lua bookmailer object")
		h.pool.putState(ls)
		return logger, nil, nil, false
	}

	return logger, ls, bm, true
}
