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
	"path"
	"strings"
	"time"

	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/request"
	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// Node types.
const (
	NodeDirectory = "directory"
	NodeWorkflow  = "workflow"
	NodeService   = "service"
	NodeEndpoint  = "endpoint"
	NodeConsumer  = "consumer"
	NodeGateway   = "gateway"
	NodeFile      = "file"
)

// Node is an entry of a namespace file tree.
type Node struct {
	Path      string    `json:"path" validate:"required,nodepath"`
	Type      string    `json:"type" validate:"required,oneof=directory workflow service endpoint consumer gateway file"`
	Data      string    `json:"data,omitempty" validate:"b64"`
	MimeType  string    `json:"mimeType,omitempty"`
	Size      int64     `json:"size,omitempty" validate:"gte=0"`
	Errors    []string  `json:"errors,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Name returns the last path element.
func (n Node) Name() string {
	return path.Base(n.Path)
}

// Content decodes the base64 file data.
func (n Node) Content() ([]byte, error) {
	return base64.StdEncoding.DecodeString(n.Data)
}

// NodeWithChildren is a node as returned by a tree read. Children is only
// set for directories.
type NodeWithChildren struct {
	Node
	Children []Node `json:"children,omitempty" validate:"dive"`
}

// CreateNodeInput creates a child of a directory.
type CreateNodeInput struct {
	Name     string `json:"name" validate:"required,excludesall=/"`
	Type     string `json:"type" validate:"required,oneof=directory workflow service endpoint consumer gateway file"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty" validate:"b64"`
}

// UpdateNodeInput renames a node (Path) and/or replaces its content (Data).
type UpdateNodeInput struct {
	Path string `json:"path,omitempty" validate:"omitempty,nodepath"`
	Data string `json:"data,omitempty" validate:"b64"`
}

// WorkflowDefinition is the validated outline of a workflow source.
type WorkflowDefinition struct {
	DirektivAPI string          `json:"direktiv_api"`
	Description string          `json:"description"`
	States      []WorkflowState `json:"states" validate:"min=1,dive"`
}

// WorkflowState is one state of a workflow definition.
type WorkflowState struct {
	ID         string `json:"id" validate:"required"`
	Type       string `json:"type" validate:"required"`
	Transition string `json:"transition,omitempty"`
}

// Revision is an immutable saved version of a workflow file.
type Revision struct {
	ID        string    `json:"id" validate:"required"`
	Hash      string    `json:"hash"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

// HasTag reports whether tag names r.
func (r Revision) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagRevisionInput attaches a tag to a revision.
type TagRevisionInput struct {
	Ref string `json:"ref" validate:"required"`
	Tag string `json:"tag" validate:"required,excludesall=/"`
}

type nodeParams struct {
	Namespace string
	Path      string
	Query     url.Values
}

func filesURL(base string, p nodeParams) string {
	return withQuery(nodeURL(base, p.Namespace, "files", p.Path), p.Query)
}

func revisionsURL(base string, p nodeParams) string {
	return withQuery(nodeURL(base, p.Namespace, "revisions", p.Path), p.Query)
}

var (
	getNodeEndpoint = request.New(http.MethodGet, filesURL,
		schema.Object[single[NodeWithChildren]]())

	createNodeEndpoint = request.New(http.MethodPost, filesURL,
		schema.Object[single[Node]]())

	updateNodeEndpoint = request.New(http.MethodPatch, filesURL,
		schema.Object[single[Node]]())

	deleteNodeEndpoint = request.New(http.MethodDelete, filesURL,
		schema.Nullable(schema.Object[struct{}]()))

	rawNodeEndpoint = request.New(http.MethodGet, filesURL,
		schema.Text(), request.WithParser(request.TextParser))

	workflowDefinitionEndpoint = request.New(http.MethodGet, filesURL,
		schema.Object[WorkflowDefinition](), request.WithParser(request.YAMLParser))

	listRevisionsEndpoint = request.New(http.MethodGet, revisionsURL,
		schema.Object[list[Revision]]())

	getRevisionEndpoint = request.New(http.MethodGet, revisionsURL,
		schema.Object[single[Revision]]())

	tagRevisionEndpoint = request.New(http.MethodPost, revisionsURL,
		schema.Object[single[Revision]]())
)

func filesKey(namespace, nodePath string) cache.Key {
	return nsKey("files", namespace, cleanNodePath(nodePath))
}

func cleanNodePath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

// GetNode reads a node. Directories include their children.
func (c *Client) GetNode(ctx context.Context, namespace, nodePath string) (NodeWithChildren, error) {
	return fetchCached(ctx, c, filesKey(namespace, nodePath), func(ctx context.Context) (NodeWithChildren, error) {
		res, err := call(ctx, c, getNodeEndpoint, nodeParams{Namespace: namespace, Path: nodePath}, nil, nil)
		return res.Data, err
	})
}

// ReadFile returns the decoded content of a file node.
func (c *Client) ReadFile(ctx context.Context, namespace, nodePath string) ([]byte, error) {
	n, err := c.GetNode(ctx, namespace, nodePath)
	if err != nil {
		return nil, err
	}
	return n.Content()
}

// RawFile returns the file content as served by the raw endpoint.
func (c *Client) RawFile(ctx context.Context, namespace, nodePath string) (string, error) {
	return call(ctx, c, rawNodeEndpoint, nodeParams{
		Namespace: namespace,
		Path:      nodePath,
		Query:     url.Values{"raw": {"true"}},
	}, nil, nil)
}

// WorkflowDefinition fetches a workflow source and checks its outline.
func (c *Client) WorkflowDefinition(ctx context.Context, namespace, nodePath string) (WorkflowDefinition, error) {
	return call(ctx, c, workflowDefinitionEndpoint, nodeParams{
		Namespace: namespace,
		Path:      nodePath,
		Query:     url.Values{"raw": {"true"}},
	}, nil, nil)
}

// CreateNode creates a child of the directory at parent.
func (c *Client) CreateNode(ctx context.Context, namespace, parent string, in CreateNodeInput) (Node, error) {
	if err := schema.Validate(in); err != nil {
		return Node{}, err
	}
	res, err := call(ctx, c, createNodeEndpoint, nodeParams{Namespace: namespace, Path: parent}, in, nil)
	if err != nil {
		return Node{}, err
	}
	c.cache.Invalidate(filesKey(namespace, parent))
	return res.Data, nil
}

// CreateDirectory creates an empty directory under parent.
func (c *Client) CreateDirectory(ctx context.Context, namespace, parent, name string) (Node, error) {
	return c.CreateNode(ctx, namespace, parent, CreateNodeInput{Name: name, Type: NodeDirectory})
}

// CreateFile creates a file node of the given type with content.
func (c *Client) CreateFile(ctx context.Context, namespace, parent, name, nodeType, mimeType string, content []byte) (Node, error) {
	return c.CreateNode(ctx, namespace, parent, CreateNodeInput{
		Name:     name,
		Type:     nodeType,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(content),
	})
}

// UpdateNode renames a node and/or replaces its content.
func (c *Client) UpdateNode(ctx context.Context, namespace, nodePath string, in UpdateNodeInput) (Node, error) {
	if err := schema.Validate(in); err != nil {
		return Node{}, err
	}
	res, err := call(ctx, c, updateNodeEndpoint, nodeParams{Namespace: namespace, Path: nodePath}, in, nil)
	if err != nil {
		return Node{}, err
	}
	c.invalidateNode(namespace, nodePath)
	if in.Path != "" {
		c.invalidateNode(namespace, in.Path)
	}
	return res.Data, nil
}

// WriteFile replaces the content of an existing file.
func (c *Client) WriteFile(ctx context.Context, namespace, nodePath string, content []byte) (Node, error) {
	return c.UpdateNode(ctx, namespace, nodePath, UpdateNodeInput{
		Data: base64.StdEncoding.EncodeToString(content),
	})
}

// RenameNode moves a node to newPath.
func (c *Client) RenameNode(ctx context.Context, namespace, nodePath, newPath string) (Node, error) {
	return c.UpdateNode(ctx, namespace, nodePath, UpdateNodeInput{Path: cleanNodePath(newPath)})
}

// DeleteNode deletes a node, recursively for directories.
func (c *Client) DeleteNode(ctx context.Context, namespace, nodePath string) error {
	if _, err := call(ctx, c, deleteNodeEndpoint, nodeParams{Namespace: namespace, Path: nodePath}, nil, nil); err != nil {
		return err
	}
	c.invalidateNode(namespace, nodePath)
	return nil
}

// invalidateNode drops the node, its subtree and its parent listing.
func (c *Client) invalidateNode(namespace, nodePath string) {
	p := cleanNodePath(nodePath)
	c.cache.Invalidate(filesKey(namespace, p))
	c.cache.Invalidate(filesKey(namespace, path.Dir(p)))
	for _, k := range c.subtreeKeys(namespace, p) {
		c.cache.Invalidate(k)
	}
	c.cache.Invalidate(nsKey("revisions", namespace, p))
}

// subtreeKeys returns the cached keys of descendants of p. Node keys hold
// the full path as one segment, so a prefix key cannot cover a subtree.
func (c *Client) subtreeKeys(namespace, p string) map[string]cache.Key {
	out := map[string]cache.Key{}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for _, k := range c.cache.Keys(nsKey("files", namespace)) {
		if len(k) == 3 && strings.HasPrefix(k[2], prefix) {
			out[k.String()] = k
		}
	}
	return out
}

// ListRevisions lists the revisions of a workflow.
func (c *Client) ListRevisions(ctx context.Context, namespace, nodePath string) ([]Revision, error) {
	key := nsKey("revisions", namespace, cleanNodePath(nodePath))
	return fetchCached(ctx, c, key, func(ctx context.Context) ([]Revision, error) {
		res, err := call(ctx, c, listRevisionsEndpoint, nodeParams{Namespace: namespace, Path: nodePath}, nil, nil)
		return res.Data, err
	})
}

// GetRevision reads one revision by id or tag.
func (c *Client) GetRevision(ctx context.Context, namespace, nodePath, ref string) (Revision, error) {
	res, err := call(ctx, c, getRevisionEndpoint, nodeParams{
		Namespace: namespace,
		Path:      nodePath,
		Query:     url.Values{"ref": {ref}},
	}, nil, nil)
	return res.Data, err
}

// TagRevision attaches tag to the revision ref.
func (c *Client) TagRevision(ctx context.Context, namespace, nodePath string, in TagRevisionInput) (Revision, error) {
	if err := schema.Validate(in); err != nil {
		return Revision{}, err
	}
	res, err := call(ctx, c, tagRevisionEndpoint, nodeParams{Namespace: namespace, Path: nodePath}, in, nil)
	if err != nil {
		return Revision{}, err
	}
	c.cache.Invalidate(nsKey("revisions", namespace, cleanNodePath(nodePath)))
	return res.Data, nil
}
