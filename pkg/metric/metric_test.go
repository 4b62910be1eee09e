package metric

import (
	"expvar"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistorySample(t *testing.T) {
	counter := new(expvar.Int)
	h := NewHistory(counter)
	assert.Equal(t, `""`, h.Var().String(), "unsampled history is empty")

	counter.Add(2)
	assert.Equal(t, "2", h.Sample())
	counter.Add(3)
	assert.Equal(t, "2,5", h.Sample())
	assert.Equal(t, strconv.Quote("2,5"), h.Var().String())
}

func TestHistoryDropsOldest(t *testing.T) {
	counter := new(expvar.Int)
	h := NewHistory(counter)
	var got string
	for i := 0; i < HistoryLen+5; i++ {
		counter.Set(int64(i))
		got = h.Sample()
	}
	samples := strings.Split(got, ",")
	assert.Len(t, samples, HistoryLen)
	assert.Equal(t, "5", samples[0])
	assert.Equal(t, strconv.Itoa(HistoryLen+4), samples[len(samples)-1])
}

func TestRunTickerFuncs(t *testing.T) {
	calls := 0
	AddTickerFunc(func() { calls++ })
	RunTickerFuncs()
	RunTickerFuncs()
	assert.Equal(t, 2, calls)
}
