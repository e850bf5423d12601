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

// EnvVar is one environment variable of a service container.
type EnvVar struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// ServiceCondition reports one aspect of a service's readiness.
type ServiceCondition struct {
	Type    string `json:"type" validate:"required"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Service is a knative service backing workflow functions.
type Service struct {
	ID         string             `json:"id" validate:"required"`
	Type       string             `json:"type" validate:"required,oneof=namespace-service workflow-service"`
	Namespace  string             `json:"namespace"`
	Name       string             `json:"name"`
	FilePath   string             `json:"filePath"`
	Image      string             `json:"image"`
	Cmd        string             `json:"cmd"`
	Size       string             `json:"size"`
	Scale      int                `json:"scale" validate:"gte=0"`
	Envs       []EnvVar           `json:"envs" validate:"dive"`
	Conditions []ServiceCondition `json:"conditions" validate:"dive"`
	Error      *string            `json:"error"`
}

// Ready reports whether every condition is "True".
func (s Service) Ready() bool {
	if len(s.Conditions) == 0 {
		return false
	}
	for _, c := range s.Conditions {
		if c.Status != "True" {
			return false
		}
	}
	return true
}

type serviceParams struct {
	Namespace string
	ID        string
}

var (
	listServicesEndpoint = request.New(http.MethodGet,
		func(base string, p serviceParams) string { return nsURL(base, p.Namespace, "services") },
		schema.Object[list[Service]]())

	rebuildServiceEndpoint = request.New(http.MethodPost,
		func(base string, p serviceParams) string {
			return nsURL(base, p.Namespace, "services", p.ID, "actions", "rebuild")
		},
		schema.Nullable(schema.Object[struct{}]()))
)

// ListServices lists the services of a namespace.
func (c *Client) ListServices(ctx context.Context, namespace string) ([]Service, error) {
	return fetchCached(ctx, c, nsKey("services", namespace), func(ctx context.Context) ([]Service, error) {
		res, err := call(ctx, c, listServicesEndpoint, serviceParams{Namespace: namespace}, nil, nil)
		return res.Data, err
	})
}

// RebuildService recreates the pods of a service.
func (c *Client) RebuildService(ctx context.Context, namespace, id string) error {
	if _, err := call(ctx, c, rebuildServiceEndpoint, serviceParams{Namespace: namespace, ID: id}, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(nsKey("services", namespace))
	return nil
}
