package smtpclient

import (
	"expvar"

	"github.com/inbucket/bookmailer/pkg/metric"
	"github.com/rs/zerolog"
)

var (
	// Raw stat collectors
	expConnectsTotal  = new(expvar.Int)
	expCommandsTotal  = new(expvar.Int)
	expDeliveredTotal = new(expvar.Int)
	expVerifiedTotal  = new(expvar.Int)
	expErrorsTotal    = new(expvar.Int)
	expWarnsTotal     = new(expvar.Int)

	// History of certain stats
	deliveredHist = metric.NewHistory(expDeliveredTotal)
	errorsHist    = metric.NewHistory(expErrorsTotal)
)

func init() {
	m := expvar.NewMap("smtpclient")
	m.Set("ConnectsTotal", expConnectsTotal)
	m.Set("CommandsTotal", expCommandsTotal)
	m.Set("DeliveredTotal", expDeliveredTotal)
	m.Set("DeliveredHist", deliveredHist.Var())
	m.Set("VerifiedTotal", expVerifiedTotal)
	m.Set("ErrorsTotal", expErrorsTotal)
	m.Set("ErrorsHist", errorsHist.Var())
	m.Set("WarnsTotal", expWarnsTotal)
	metric.AddTickerFunc(func() {
		deliveredHist.Sample()
		errorsHist.Sample()
	})
}

type logHook struct{}

// Run implements a zerolog hook that updates the client warning/error expvars.
func (h logHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		expWarnsTotal.Add(1)
	case zerolog.ErrorLevel:
		expErrorsTotal.Add(1)
	}
}
