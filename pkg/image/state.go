package image

import "go.uber.org/zap"

// State of a materialization
type State int

// States, in the order a materialization goes through them. Some steps are skipped
// depending on the output: a combination exports no tree, a block image carries no
// installer metadata and only archives with a bundle merge one.
const (
	NoBase State = iota
	TemplateLoaded
	TreeExported
	MetadataRewritten
	ContainerBundleMerged
	Finalized
)

var stateNames = [...]string{
	NoBase:                "no base",
	TemplateLoaded:        "template loaded",
	TreeExported:          "tree exported",
	MetadataRewritten:     "metadata rewritten",
	ContainerBundleMerged: "container bundle merged",
	Finalized:             "finalized",
}

func (s State) String() string {
	if s < NoBase || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// tracker moves a materialization forward. A step never goes back, and nothing happens
// before the template is loaded.
type tracker struct {
	state   State
	observe func(State)
	l       *zap.Logger
}

func (t *tracker) advance(to State) error {
	if to <= t.state || (t.state == NoBase && to != TemplateLoaded) {
		return ErrState.WrapMessage("%s after %s", to, t.state)
	}
	t.l.Debug("materialization step", zap.Stringer("from", t.state), zap.Stringer("to", to))
	t.state = to
	if t.observe != nil {
		t.observe(to)
	}
	return nil
}
