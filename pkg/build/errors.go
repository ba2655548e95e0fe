package build

import (
	"fmt"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"go.uber.org/multierr"
)

var (
	// ErrManifest indicates a manifest which does not follow the schema
	ErrManifest = errors.NewKind(errors.KindValidation, "parsing errors found in build manifest")

	// ErrAssignment indicates a malformed variable assignment
	ErrAssignment = errors.NewKind(errors.KindUsage, "variable assignment must follow the format KEY=VALUE")

	// ErrStepUnavailable indicates a customization without a configured executor
	ErrStepUnavailable = errors.NewKind(errors.KindPrecondition, "no executor configured for customization")

	// ErrStep indicates a failed customization
	ErrStep = errors.New("customization failed")

	// ErrBuild is returned when a build could not complete
	ErrBuild = errors.New("build failed")
)

// Violation of the manifest schema
type Violation struct {
	File    string
	Line    int
	Column  int
	Path    string
	Message string
}

func (v *Violation) Error() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, v.Line, v.Column)
	}
	if v.Path == "" {
		return loc + ": " + v.Message
	}
	return loc + ": " + v.Path + ": " + v.Message
}

// Violations lists the schema violations carried by an error
func Violations(err error) []*Violation {
	for e := err; e != nil; {
		if errs := multierr.Errors(e); len(errs) > 1 {
			out := make([]*Violation, 0, len(errs))
			for _, inner := range errs {
				var v *Violation
				if errors.As(inner, &v) {
					out = append(out, v)
				}
			}
			return out
		}
		if v, ok := e.(*Violation); ok {
			return []*Violation{v}
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		e = u.Unwrap()
	}
	return nil
}
