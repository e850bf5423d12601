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
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Secret is a namespace secret. Values are write-only.
type Secret struct {
	Name        string    `json:"name" validate:"required"`
	Initialized bool      `json:"initialized"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type secretInput struct {
	Name string `json:"name" validate:"required,excludesall=/"`
	Data string `json:"data" validate:"b64"`
}

type secretParams struct {
	Namespace string
	Name      string
}

func secretsURL(base string, p secretParams) string {
	if p.Name == "" {
		return nsURL(base, p.Namespace, "secrets")
	}
	return nsURL(base, p.Namespace, "secrets", p.Name)
}

var (
	listSecretsEndpoint = request.New(http.MethodGet, secretsURL,
		schema.Object[list[Secret]]())

	createSecretEndpoint = request.New(http.MethodPost, secretsURL,
		schema.Object[single[Secret]]())

	updateSecretEndpoint = request.New(http.MethodPatch, secretsURL,
		schema.Object[single[Secret]]())

	deleteSecretEndpoint = request.New(http.MethodDelete, secretsURL,
		schema.Nullable(schema.Object[struct{}]()))
)

// ListSecrets lists the secrets of a namespace.
func (c *Client) ListSecrets(ctx context.Context, namespace string) ([]Secret, error) {
	return fetchCached(ctx, c, nsKey("secrets", namespace), func(ctx context.Context) ([]Secret, error) {
		res, err := call(ctx, c, listSecretsEndpoint, secretParams{Namespace: namespace}, nil, nil)
		return res.Data, err
	})
}

// SetSecret creates the secret, or overwrites its value when it already
// exists.
func (c *Client) SetSecret(ctx context.Context, namespace, name string, value []byte) (Secret, error) {
	in := secretInput{Name: name, Data: base64.StdEncoding.EncodeToString(value)}
	if err := schema.Validate(in); err != nil {
		return Secret{}, err
	}

	res, err := call(ctx, c, createSecretEndpoint, secretParams{Namespace: namespace}, in, nil)
	if request.StatusCode(err) == http.StatusConflict {
		res, err = call(ctx, c, updateSecretEndpoint, secretParams{Namespace: namespace, Name: name}, in, nil)
	}
	if err != nil {
		return Secret{}, err
	}
	c.cache.Invalidate(nsKey("secrets", namespace))
	return res.Data, nil
}

// DeleteSecret deletes a secret.
func (c *Client) DeleteSecret(ctx context.Context, namespace, name string) error {
	if _, err := call(ctx, c, deleteSecretEndpoint, secretParams{Namespace: namespace, Name: name}, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(nsKey("secrets", namespace))
	return nil
}
