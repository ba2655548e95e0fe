// Copyright © 2018 One Concern

// Package gcs exposes Google Cloud Storage buckets as a storage.Store.
//
// Base images may be published to a bucket and referenced as gs://bucket/object
// in build manifests.
package gcs

import (
	"context"
	"io"

	gcsStorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/oneconcern/tcbuilder/pkg/storage"
)

type gcs struct {
	client         *gcsStorage.Client
	readOnlyClient *gcsStorage.Client
	bucket         string
}

// New GCS store. Credentials are resolved from the environment unless a credentials file is given.
func New(ctx context.Context, bucket, credentialFile string) (storage.Store, error) {
	googleStore := &gcs{bucket: bucket}
	roOpts := []option.ClientOption{option.WithScopes(gcsStorage.ScopeReadOnly)}
	rwOpts := []option.ClientOption{option.WithScopes(gcsStorage.ScopeFullControl)}
	if credentialFile != "" {
		roOpts = append(roOpts, option.WithCredentialsFile(credentialFile))
		rwOpts = append(rwOpts, option.WithCredentialsFile(credentialFile))
	}
	var err error
	googleStore.readOnlyClient, err = gcsStorage.NewClient(ctx, roOpts...)
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	googleStore.client, err = gcsStorage.NewClient(ctx, rwOpts...)
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return googleStore, nil
}

func (g *gcs) String() string {
	return "gs://" + g.bucket
}

func (g *gcs) Has(ctx context.Context, objectName string) (bool, error) {
	_, err := g.readOnlyClient.Bucket(g.bucket).Object(objectName).Attrs(ctx)
	if err != nil {
		if err == gcsStorage.ErrObjectNotExist {
			return false, nil
		}
		return false, toSentinelErrors(err)
	}
	return true, nil
}

func (g *gcs) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	objectReader, err := g.readOnlyClient.Bucket(g.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return objectReader, nil
}

func (g *gcs) Put(ctx context.Context, objectName string, reader io.Reader, exclusive bool) error {
	object := g.client.Bucket(g.bucket).Object(objectName)
	if exclusive {
		object = object.If(gcsStorage.Conditions{DoesNotExist: true})
	}
	writer := object.NewWriter(ctx)
	if _, err := io.Copy(writer, reader); err != nil {
		_ = writer.Close()
		return toSentinelErrors(err)
	}
	return toSentinelErrors(writer.Close())
}

func (g *gcs) Delete(ctx context.Context, objectName string) error {
	return toSentinelErrors(g.client.Bucket(g.bucket).Object(objectName).Delete(ctx))
}

func (g *gcs) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	objectsIterator := g.readOnlyClient.Bucket(g.bucket).Objects(ctx, nil)
	for {
		attrs, err := objectsIterator.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, toSentinelErrors(err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (g *gcs) Clear(ctx context.Context) error {
	keys, err := g.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := g.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
