package gcs

import (
	"errors"
	"strings"

	gcsStorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/oneconcern/tcbuilder/pkg/storage/status"
)

func apiErrors(err *googleapi.Error) error {
	switch err.Code {
	case 400:
		if strings.Contains(err.Body, "bucket is not valid") {
			return status.ErrInvalidResource.Wrap(err)
		}
		return status.ErrStorageAPI.Wrap(err)
	case 401:
		return status.ErrUnauthorized.Wrap(err)
	case 403:
		return status.ErrForbidden.Wrap(err)
	case 404:
		return status.ErrNotFound.Wrap(err)
	default:
		return status.ErrStorageAPI.Wrap(err)
	}
}

func toSentinelErrors(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gcsStorage.ErrObjectNotExist) || errors.Is(err, gcsStorage.ErrBucketNotExist) {
		return status.ErrNotFound.Wrap(err)
	}
	var typedErr *googleapi.Error
	if errors.As(err, &typedErr) {
		return apiErrors(typedErr)
	}
	return status.ErrStorageAPI.Wrap(err)
}
