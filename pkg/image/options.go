package image

import (
	"time"

	"github.com/oneconcern/tcbuilder/pkg/model"
	"go.uber.org/zap"
)

type options struct {
	layout        model.Layout
	name          string
	description   string
	licence       string
	releaseNotes  string
	releaseDate   time.Time
	autoInstall   *bool
	autoReboot    bool
	acceptLicence bool
	bundle        string
	template      string
	label         string
	builder       FilesystemBuilder
	observe       func(State)
	l             *zap.Logger
}

func newOptions(opts []Option) options {
	o := options{l: zap.NewNop()}
	for _, apply := range opts {
		apply(&o)
	}
	if o.builder == nil {
		o.builder = &MkfsBuilder{}
	}
	return o
}

// Option for Materialize and Combine
type Option func(*options)

// WithLayout chooses the output layout. It defaults to the layout of the unpacked image.
func WithLayout(layout model.Layout) Option {
	return func(o *options) {
		o.layout = layout
	}
}

// WithName of the image
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithDescription of the image
func WithDescription(description string) Option {
	return func(o *options) {
		o.description = description
	}
}

// WithLicence copies a licence file into the image and references it
func WithLicence(file string) Option {
	return func(o *options) {
		o.licence = file
	}
}

// WithReleaseNotes copies a release notes file into the image and references it
func WithReleaseNotes(file string) Option {
	return func(o *options) {
		o.releaseNotes = file
	}
}

// WithReleaseDate sets the release date. It defaults to today.
func WithReleaseDate(t time.Time) Option {
	return func(o *options) {
		o.releaseDate = t
	}
}

// WithAutoInstall sets the automatic installation flag. A nil value keeps the template one.
func WithAutoInstall(v *bool) Option {
	return func(o *options) {
		o.autoInstall = v
	}
}

// WithAutoReboot reboots the device once the image is installed
func WithAutoReboot(v bool) Option {
	return func(o *options) {
		o.autoReboot = v
	}
}

// WithAcceptLicence accepts the licence of an automatically installed image
func WithAcceptLicence(v bool) Option {
	return func(o *options) {
		o.acceptLicence = v
	}
}

// WithBundle adds the container bundle held by a directory
func WithBundle(dir string) Option {
	return func(o *options) {
		o.bundle = dir
	}
}

// WithTemplate sets the base block image. It defaults to the image the area was unpacked from.
func WithTemplate(name string) Option {
	return func(o *options) {
		o.template = name
	}
}

// WithLabel sets the label of the root filesystem in block images
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithFilesystemBuilder sets the tool building root filesystems of block images
func WithFilesystemBuilder(b FilesystemBuilder) Option {
	return func(o *options) {
		if b != nil {
			o.builder = b
		}
	}
}

// WithObserver is called each time the materialization moves to a new state
func WithObserver(fn func(State)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

// WithLogger for the materialization
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}
