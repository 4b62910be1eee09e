// Package metric keeps short rolling histories of expvar counters.
package metric

import (
	"container/list"
	"expvar"
	"strings"
	"sync"
	"time"
)

// HistoryLen is one hour of minute samples plus the baseline the first delta is taken against.
const HistoryLen = 61

// TickerFunc is the function signature accepted by AddTickerFunc, will be called once per minute.
type TickerFunc func()

var (
	tickerMu    sync.Mutex
	tickerFuncs []TickerFunc
	tickerOnce  sync.Once
)

// AddTickerFunc registers f to be called once per minute.  The ticker goroutine is started on
// first use, so packages that never register a func never start it.
func AddTickerFunc(f TickerFunc) {
	tickerMu.Lock()
	tickerFuncs = append(tickerFuncs, f)
	tickerMu.Unlock()
	tickerOnce.Do(func() { go tick(time.Minute) })
}

// RunTickerFuncs calls every registered TickerFunc once.
func RunTickerFuncs() {
	tickerMu.Lock()
	funcs := append([]TickerFunc(nil), tickerFuncs...)
	tickerMu.Unlock()
	for _, f := range funcs {
		f()
	}
}

func tick(d time.Duration) {
	ticker := time.NewTicker(d)
	for range ticker.C {
		RunTickerFuncs()
	}
}

// History samples an expvar.Var into a bounded list and publishes the samples as a comma
// separated expvar.String.
type History struct {
	mu      sync.Mutex
	source  expvar.Var
	samples *list.List
	max     int
	out     *expvar.String
}

// NewHistory creates a History of source keeping up to HistoryLen samples.
func NewHistory(source expvar.Var) *History {
	return &History{
		source:  source,
		samples: list.New(),
		max:     HistoryLen,
		out:     new(expvar.String),
	}
}

// Var returns the published sample string, suitable for expvar.Map.Set.
func (h *History) Var() expvar.Var {
	return h.out
}

// Sample appends the current value of the source, dropping the oldest sample when full, and
// returns the published string.
func (h *History) Sample() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples.PushBack(h.source.String())
	if h.samples.Len() > h.max {
		h.samples.Remove(h.samples.Front())
	}
	s := joinStringList(h.samples)
	h.out.Set(s)
	return s
}

// joinStringList joins a List containing strings by commas.
func joinStringList(listOfStrings *list.List) string {
	if listOfStrings.Len() == 0 {
		return ""
	}
	s := make([]string, 0, listOfStrings.Len())
	for e := listOfStrings.Front(); e != nil; e = e.Next() {
		s = append(s, e.Value.(string))
	}
	return strings.Join(s, ",")
}
