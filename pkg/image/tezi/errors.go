package tezi

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrNoConfig indicates an image directory without image*.json
	ErrNoConfig = errors.NewKind(errors.KindPrecondition, "no image.json file found in image directory")

	// ErrMalformed indicates an image.json which cannot be decoded
	ErrMalformed = errors.NewKind(errors.KindValidation, "malformed image configuration")

	// ErrNoRootfs indicates a configuration without root filesystem content
	ErrNoRootfs = errors.NewKind(errors.KindValidation, "no root file system content section found in Easy Installer image")

	// ErrFilelistEntry indicates a filelist entry which cannot be decoded
	ErrFilelistEntry = errors.NewKind(errors.KindValidation, "could not decode filelist entry")

	// ErrSourceInFilelist indicates a source file already listed
	ErrSourceInFilelist = errors.NewKind(errors.KindValidation, "source already in filelist")

	// ErrTargetInFilelist indicates a destination already listed
	ErrTargetInFilelist = errors.NewKind(errors.KindValidation, "target already in filelist")

	// ErrHasContainers indicates a template which already carries a filelist
	ErrHasContainers = errors.NewKind(errors.KindValidation,
		"currently it is not possible to customize the containers of a base image already containing container images")

	// ErrLicenceNotAccepted indicates an automatic installation of an image carrying a licence
	ErrLicenceNotAccepted = errors.NewKind(errors.KindValidation, "the image licence must be accepted for an automatic installation")
)
