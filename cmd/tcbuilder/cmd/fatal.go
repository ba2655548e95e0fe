package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/oneconcern/tcbuilder/pkg/build"
	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/image"
	"github.com/oneconcern/tcbuilder/pkg/isolate"
	"github.com/oneconcern/tcbuilder/pkg/remote"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
)

// Exit codes, by kind of failure
const (
	exitOK = iota
	exitInternal
	exitUsage
	exitPrecondition
	exitValidation
	exitRemote
	exitIntegrity
)

var (
	// globals used to patch over calls to os.Exit() during test
	osExit = os.Exit

	// infoLogger wraps informative messages to os.Stdout without cluttering expected output in tests.
	infoLogger = log.New(os.Stdout, "", 0)
	errOut     io.Writer = os.Stderr

	errUsage = errors.NewKind(errors.KindUsage, "invalid usage")

	errColor  = color.New(color.FgRed, color.Bold)
	hintColor = color.New(color.FgYellow)
)

// hints suggest a remediation for common failures
var hints = []struct {
	err  error
	hint string
}{
	{storagearea.ErrNoBase, "unpack an image first: tcbuilder images unpack <image>"},
	{storagearea.ErrNotEmpty, "use --remove-storage to replace the unpacked image"},
	{storagearea.ErrLocked, "wait for the other command to complete"},
	{storagearea.ErrIncompatible, "clear the storage area with: tcbuilder images clear"},
	{image.ErrOutputExists, "remove the output first, or choose another one"},
	{image.ErrLayoutMismatch, "unpack an image of the same layout as the output"},
	{image.ErrNoTemplate, "give a template with --base-image"},
	{remote.ErrUnreachable, "check the device address and credentials, then try again"},
	{build.ErrStepUnavailable, "configure the executor in tcbuilder.yaml, under steps"},
	{isolate.ErrAlreadyIsolated, "the previous changes are kept until then"},
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch errors.KindOf(err) {
	case errors.KindUsage:
		return exitUsage
	case errors.KindPrecondition:
		return exitPrecondition
	case errors.KindValidation:
		return exitValidation
	case errors.KindRemote:
		return exitRemote
	case errors.KindIntegrity:
		return exitIntegrity
	}
	if !started {
		// cobra rejected the command line before any command ran
		return exitUsage
	}
	return exitInternal
}

func report(err error) {
	if violations := build.Violations(err); len(violations) > 0 {
		_, _ = errColor.Fprintln(errOut, "error:", build.ErrManifest.Error())
		for _, v := range violations {
			_, _ = fmt.Fprintln(errOut, "  "+v.Error())
		}
		return
	}
	_, _ = errColor.Fprintln(errOut, "error:", err)
	for _, h := range hints {
		if errors.Is(err, h.err) {
			_, _ = hintColor.Fprintln(errOut, "hint:", h.hint)
			return
		}
	}
}

func wrapFatalWithCodef(code int, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(errOut, format+"\n", args...)
	osExit(code)
}
