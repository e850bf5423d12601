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

	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Registry is a container registry credential.
type Registry struct {
	ID        string `json:"id" validate:"required"`
	Namespace string `json:"namespace"`
	URL       string `json:"url" validate:"required"`
	User      string `json:"user"`
}

// CreateRegistryInput adds registry credentials.
type CreateRegistryInput struct {
	URL      string `json:"url" validate:"required"`
	User     string `json:"user" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registryParams struct {
	Namespace string
	ID        string
}

func registriesURL(base string, p registryParams) string {
	if p.ID == "" {
		return nsURL(base, p.Namespace, "registries")
	}
	return nsURL(base, p.Namespace, "registries", p.ID)
}

var (
	listRegistriesEndpoint = request.New(http.MethodGet, registriesURL,
		schema.Object[list[Registry]]())

	createRegistryEndpoint = request.New(http.MethodPost, registriesURL,
		schema.Object[single[Registry]]())

	deleteRegistryEndpoint = request.New(http.MethodDelete, registriesURL,
		schema.Nullable(schema.Object[struct{}]()))
)

// ListRegistries lists the registries of a namespace.
func (c *Client) ListRegistries(ctx context.Context, namespace string) ([]Registry, error) {
	return fetchCached(ctx, c, nsKey("registries", namespace), func(ctx context.Context) ([]Registry, error) {
		res, err := call(ctx, c, listRegistriesEndpoint, registryParams{Namespace: namespace}, nil, nil)
		return res.Data, err
	})
}

// CreateRegistry stores registry credentials.
func (c *Client) CreateRegistry(ctx context.Context, namespace string, in CreateRegistryInput) (Registry, error) {
	if err := schema.Validate(in); err != nil {
		return Registry{}, err
	}
	res, err := call(ctx, c, createRegistryEndpoint, registryParams{Namespace: namespace}, in, nil)
	if err != nil {
		return Registry{}, err
	}
	c.cache.Invalidate(nsKey("registries", namespace))
	return res.Data, nil
}

// DeleteRegistry removes registry credentials.
func (c *Client) DeleteRegistry(ctx context.Context, namespace, id string) error {
	if _, err := call(ctx, c, deleteRegistryEndpoint, registryParams{Namespace: namespace, ID: id}, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(nsKey("registries", namespace))
	return nil
}
