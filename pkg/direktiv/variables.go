// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package direktiv

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Variable scopes.
const (
	VariableNamespace = "namespace-variable"
	VariableWorkflow  = "workflow-variable"
	VariableInstance  = "instance-variable"
)

// Variable is the metadata of a stored variable.
type Variable struct {
	ID        string    `json:"id" validate:"required"`
	Type      string    `json:"type" validate:"required,oneof=namespace-variable workflow-variable instance-variable"`
	Reference string    `json:"reference"`
	Name      string    `json:"name" validate:"required"`
	Size      int64     `json:"size" validate:"gte=0"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VariableDetail is a variable with its base64 data.
type VariableDetail struct {
	Variable
	Data string `json:"data" validate:"b64"`
}

// Content decodes the variable data.
func (v VariableDetail) Content() ([]byte, error) {
	return base64.StdEncoding.DecodeString(v.Data)
}

// CreateVariableInput creates a namespace variable, or a workflow
// variable when WorkflowPath is set.
type CreateVariableInput struct {
	Name         string `json:"name" validate:"required,excludesall=/"`
	MimeType     string `json:"mimeType"`
	Data         string `json:"data" validate:"b64"`
	WorkflowPath string `json:"workflowPath,omitempty" validate:"omitempty,nodepath"`
}

// UpdateVariableInput changes name, mime type or data. Empty fields are
// kept.
type UpdateVariableInput struct {
	Name     string `json:"name,omitempty" validate:"excludesall=/"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty" validate:"b64"`
}

type variableParams struct {
	Namespace    string
	ID           string
	WorkflowPath string
}

func variablesURL(base string, p variableParams) string {
	if p.ID != "" {
		return nsURL(base, p.Namespace, "variables", p.ID)
	}
	return withQuery(nsURL(base, p.Namespace, "variables"), url.Values{"workflowPath": {p.WorkflowPath}})
}

var (
	listVariablesEndpoint = request.New(http.MethodGet, variablesURL,
		schema.Object[list[Variable]]())

	getVariableEndpoint = request.New(http.MethodGet, variablesURL,
		schema.Object[single[VariableDetail]]())

	createVariableEndpoint = request.New(http.MethodPost, variablesURL,
		schema.Object[single[VariableDetail]]())

	updateVariableEndpoint = request.New(http.MethodPatch, variablesURL,
		schema.Object[single[VariableDetail]]())

	deleteVariableEndpoint = request.New(http.MethodDelete, variablesURL,
		schema.Nullable(schema.Object[struct{}]()))
)

// ListVariables lists namespace variables, or the variables of one
// workflow when workflowPath is not empty.
func (c *Client) ListVariables(ctx context.Context, namespace, workflowPath string) ([]Variable, error) {
	key := nsKey("variables", namespace, "list", workflowPath)
	return fetchCached(ctx, c, key, func(ctx context.Context) ([]Variable, error) {
		res, err := call(ctx, c, listVariablesEndpoint, variableParams{Namespace: namespace, WorkflowPath: workflowPath}, nil, nil)
		return res.Data, err
	})
}

// GetVariable reads a variable with its data.
func (c *Client) GetVariable(ctx context.Context, namespace, id string) (VariableDetail, error) {
	return fetchCached(ctx, c, nsKey("variables", namespace, "item", id), func(ctx context.Context) (VariableDetail, error) {
		res, err := call(ctx, c, getVariableEndpoint, variableParams{Namespace: namespace, ID: id}, nil, nil)
		return res.Data, err
	})
}

// CreateVariable stores a new variable.
func (c *Client) CreateVariable(ctx context.Context, namespace string, in CreateVariableInput) (VariableDetail, error) {
	if err := schema.Validate(in); err != nil {
		return VariableDetail{}, err
	}
	res, err := call(ctx, c, createVariableEndpoint, variableParams{Namespace: namespace}, in, nil)
	if err != nil {
		return VariableDetail{}, err
	}
	c.cache.Invalidate(nsKey("variables", namespace, "list"))
	return res.Data, nil
}

// UpdateVariable patches a variable.
func (c *Client) UpdateVariable(ctx context.Context, namespace, id string, in UpdateVariableInput) (VariableDetail, error) {
	if err := schema.Validate(in); err != nil {
		return VariableDetail{}, err
	}
	res, err := call(ctx, c, updateVariableEndpoint, variableParams{Namespace: namespace, ID: id}, in, nil)
	if err != nil {
		return VariableDetail{}, err
	}
	c.cache.Invalidate(nsKey("variables", namespace))
	return res.Data, nil
}

// DeleteVariable deletes a variable.
func (c *Client) DeleteVariable(ctx context.Context, namespace, id string) error {
	if _, err := call(ctx, c, deleteVariableEndpoint, variableParams{Namespace: namespace, ID: id}, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(nsKey("variables", namespace))
	return nil
}
