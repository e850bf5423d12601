// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Mirror auth types.
const (
	MirrorAuthPublic = "public"
	MirrorAuthSSH    = "ssh"
	MirrorAuthToken  = "token"
)

// Mirror is the git source a namespace is synchronised from.
type Mirror struct {
	URL       string    `json:"url" validate:"required"`
	GitRef    string    `json:"gitRef" validate:"required"`
	AuthType  string    `json:"authType" validate:"omitempty,oneof=public ssh token"`
	PublicKey string    `json:"publicKey,omitempty"`
	Insecure  bool      `json:"insecure"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Namespace is a tenant.
type Namespace struct {
	Name              string    `json:"name" validate:"required"`
	Mirror            *Mirror   `json:"mirror"`
	IsSystemNamespace bool      `json:"isSystemNamespace"`
	CreatedAt         time.Time `json:"createdAt" validate:"required"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MirrorInput configures a mirror on namespace creation.
type MirrorInput struct {
	URL                  string `json:"url" validate:"required"`
	GitRef               string `json:"gitRef" validate:"required"`
	AuthType             string `json:"authType" validate:"required,oneof=public ssh token"`
	AuthToken            string `json:"authToken,omitempty" validate:"required_if=AuthType token"`
	PublicKey            string `json:"publicKey,omitempty" validate:"required_if=AuthType ssh"`
	PrivateKey           string `json:"privateKey,omitempty" validate:"required_if=AuthType ssh"`
	PrivateKeyPassphrase string `json:"privateKeyPassphrase,omitempty"`
	Insecure             bool   `json:"insecure"`
}

// CreateNamespaceInput is the body of a namespace creation.
type CreateNamespaceInput struct {
	Name   string       `json:"name" validate:"required,nsname"`
	Mirror *MirrorInput `json:"mirror,omitempty"`
}

type namespaceParams struct {
	Namespace string
}

var (
	listNamespacesEndpoint = request.New(http.MethodGet,
		func(base string, _ struct{}) string { return base + apiPrefix + "/namespaces" },
		schema.Object[list[Namespace]]())

	getNamespaceEndpoint = request.New(http.MethodGet,
		func(base string, p namespaceParams) string { return nsURL(base, p.Namespace) },
		schema.Object[single[Namespace]]())

	createNamespaceEndpoint = request.New(http.MethodPost,
		func(base string, _ struct{}) string { return base + apiPrefix + "/namespaces" },
		schema.Object[single[Namespace]]())

	deleteNamespaceEndpoint = request.New(http.MethodDelete,
		func(base string, p namespaceParams) string { return nsURL(base, p.Namespace) },
		schema.Nullable(schema.Object[struct{}]()))
)

// ListNamespaces returns every namespace visible to the token.
func (c *Client) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	return fetchCached(ctx, c, namespacesKey(), func(ctx context.Context) ([]Namespace, error) {
		res, err := call(ctx, c, listNamespacesEndpoint, struct{}{}, nil, nil)
		return res.Data, err
	})
}

// GetNamespace returns one namespace.
func (c *Client) GetNamespace(ctx context.Context, namespace string) (Namespace, error) {
	return fetchCached(ctx, c, append(namespacesKey(), namespace), func(ctx context.Context) (Namespace, error) {
		res, err := call(ctx, c, getNamespaceEndpoint, namespaceParams{namespace}, nil, nil)
		return res.Data, err
	})
}

// CreateNamespace creates a namespace, optionally mirrored from git.
func (c *Client) CreateNamespace(ctx context.Context, in CreateNamespaceInput) (Namespace, error) {
	if err := schema.Validate(in); err != nil {
		return Namespace{}, err
	}
	res, err := call(ctx, c, createNamespaceEndpoint, struct{}{}, in, nil)
	if err != nil {
		return Namespace{}, err
	}
	c.cache.Invalidate(namespacesKey())
	return res.Data, nil
}

// DeleteNamespace deletes a namespace and drops everything cached for it.
func (c *Client) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := call(ctx, c, deleteNamespaceEndpoint, namespaceParams{namespace}, nil, nil); err != nil {
		return err
	}
	c.invalidateNamespace(namespace)
	return nil
}

// NamespaceOverview aggregates the resources of one namespace.
type NamespaceOverview struct {
	Namespace  Namespace
	Services   []Service
	Secrets    []Secret
	Registries []Registry
	Variables  []Variable
}

// DescribeNamespace loads a namespace and its resources concurrently.
// The first failing request cancels the others.
func (c *Client) DescribeNamespace(ctx context.Context, namespace string) (NamespaceOverview, error) {
	var out NamespaceOverview
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Namespace, err = c.GetNamespace(ctx, namespace)
		return err
	})
	g.Go(func() (err error) {
		out.Services, err = c.ListServices(ctx, namespace)
		return err
	})
	g.Go(func() (err error) {
		out.Secrets, err = c.ListSecrets(ctx, namespace)
		return err
	})
	g.Go(func() (err error) {
		out.Registries, err = c.ListRegistries(ctx, namespace)
		return err
	})
	g.Go(func() (err error) {
		out.Variables, err = c.ListVariables(ctx, namespace, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return NamespaceOverview{}, err
	}
	return out, nil
}

// resources lists the per-namespace cache key roots.
var resources = []string{"files", "revisions", "services", "secrets", "registries", "variables", "events", "instances", "logs", "mirror"}

func (c *Client) invalidateNamespace(namespace string) {
	c.cache.Invalidate(namespacesKey())
	for _, r := range resources {
		c.cache.Invalidate(nsKey(r, namespace))
	}
}

// fetchCached reads key through the client cache.
func fetchCached[T any](ctx context.Context, c *Client, key cache.Key, fetch func(context.Context) (T, error)) (T, error) {
	return cache.Fetch(ctx, c.cache, key, fetch)
}
