package rpc

import (
	"time"

	"github.com/nimblerpc/core/hlc"
	"github.com/nimblerpc/core/internal/dispatch"
	"github.com/nimblerpc/core/internal/log"
	"github.com/nimblerpc/core/internal/options"
)

type (
	// Application holds the process-wide state shared by every invoker and
	// executor built on top of it: the hybrid logical clock, the dispatch
	// registry, and the default logger.
	Application struct {
		hlc      *hlc.Global
		dispatch *dispatch.Registry
		log      log.Logger
	}

	// ApplicationOption represents a single application option.
	ApplicationOption interface{ application(*ApplicationOptions) }

	// ApplicationOptions are the resolved application options.
	ApplicationOptions struct {
		MaxClockDrift time.Duration
		Logger        log.Logger
	}

	// WithMaxClockDrift specifies how long HLC timestamps observed from
	// peers are allowed to drift ahead of the wall clock before they are
	// rejected (spec.md §5).
	WithMaxClockDrift time.Duration
)

// NewApplication creates new shared application state. An Application owns
// the dispatch registry that every invoker/executor constructed against it
// will share, so exactly one should be created per process per pub/sub
// client identity.
func NewApplication(opt ...ApplicationOption) (*Application, error) {
	var opts ApplicationOptions
	opts.Apply(opt)

	return &Application{
		hlc:      hlc.New(opts.MaxClockDrift),
		dispatch: dispatch.NewRegistry(),
		log:      opts.Logger,
	}, nil
}

// HLC returns the application's current hybrid logical clock timestamp,
// advancing it past the wall clock if necessary.
func (a *Application) HLC() (hlc.HybridLogicalClock, error) {
	return a.hlc.Get()
}

// MergeHLC folds an observed HLC timestamp into the application's clock.
func (a *Application) MergeHLC(observed hlc.HybridLogicalClock) error {
	return a.hlc.Merge(observed)
}

// Apply resolves the provided list of options.
func (o *ApplicationOptions) Apply(opts []ApplicationOption, rest ...ApplicationOption) {
	for opt := range options.Apply[ApplicationOption](opts, rest...) {
		opt.application(o)
	}
}

func (o WithMaxClockDrift) application(opt *ApplicationOptions) {
	opt.MaxClockDrift = time.Duration(o)
}
