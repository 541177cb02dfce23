package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pubengine/internal/types"
)

// Compile-time assertions that ContentClient satisfies every collaborator
// interface the engine consumes.
var (
	_ types.FolderService       = (*ContentClient)(nil)
	_ types.RelationshipService = (*ContentClient)(nil)
	_ types.ItemStore           = (*ContentClient)(nil)
	_ types.TypeResolver        = (*ContentClient)(nil)
	_ types.EditionResolver     = (*ContentClient)(nil)
	_ types.ItemPublisher       = (*ContentClient)(nil)
)

// ContentClient talks to the CMS content service REST API. It backs the
// folder, relationship, item, type, edition, and publish collaborators.
type ContentClient struct {
	base    *BaseClient
	baseURL string
}

// NewContentClient creates a ContentClient for the given service base URL.
func NewContentClient(base *BaseClient, baseURL string) *ContentClient {
	return &ContentClient{
		base:    base,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// errNotFound marks a 404 from the content service so callers can map it to
// their own contract (nil edition, empty slice, type resolution error).
var errNotFound = fmt.Errorf("content service: not found")

func (c *ContentClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build content service request", err)
	}
	return c.doJSON(req, out)
}

func (c *ContentClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal content service request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build content service request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *ContentClient) doJSON(req *http.Request, out any) error {
	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return errNotFound
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.NewAppError(
			types.ErrCodeUpstreamContent,
			fmt.Sprintf("content service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			nil,
		)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamContent, "failed to decode content service response", err)
	}
	return nil
}

// --- FolderService ---

// FolderPaths returns every folder path containing the item, innermost
// folder first. An unfiled item yields an empty slice.
func (c *ContentClient) FolderPaths(ctx context.Context, item types.ContentID) ([]types.FolderPath, error) {
	var body struct {
		Paths [][]types.FolderID `json:"paths"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/v1/items/%d/folder-paths", item), nil, &body)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	paths := make([]types.FolderPath, len(body.Paths))
	for i, p := range body.Paths {
		paths[i] = types.FolderPath(p)
	}
	return paths, nil
}

func (c *ContentClient) ItemsOfTypes(ctx context.Context, folder types.FolderID, typeIDs []types.TypeID) ([]types.ContentID, error) {
	if len(typeIDs) == 0 {
		return nil, nil
	}
	parts := make([]string, len(typeIDs))
	for i, id := range typeIDs {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	query := url.Values{"types": {strings.Join(parts, ",")}}

	var body struct {
		Items []types.ContentID `json:"items"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/v1/folders/%d/items", folder), query, &body)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return body.Items, nil
}

// --- RelationshipService ---

func (c *ContentClient) ActiveAssemblyParents(ctx context.Context, item types.ContentID) ([]types.ContentID, error) {
	var body struct {
		Owners []types.ContentID `json:"owners"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/v1/items/%d/aa-parents", item), nil, &body)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return body.Owners, nil
}

func (c *ContentClient) IsNavigationNode(ctx context.Context, item types.ContentID) (bool, error) {
	var body struct {
		IsNode bool `json:"is_node"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/v1/navigation/%d", item), nil, &body)
	if err == errNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return body.IsNode, nil
}

func (c *ContentClient) DescendantNavigationNodes(ctx context.Context, item types.ContentID) ([]types.ContentID, error) {
	var body struct {
		Nodes []types.ContentID `json:"nodes"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/navigation/%d/descendants", item), nil, &body); err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, err
	}
	return body.Nodes, nil
}

func (c *ContentClient) DescendantLandingPages(ctx context.Context, item types.ContentID) ([]types.ContentID, error) {
	var body struct {
		Pages []types.ContentID `json:"pages"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/navigation/%d/landing-pages", item), nil, &body); err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, err
	}
	return body.Pages, nil
}

// --- ItemStore ---

// TouchItems re-stamps the last-modified date of the given items.
func (c *ContentClient) TouchItems(ctx context.Context, items []types.ContentID) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var body struct {
		Touched int `json:"touched"`
	}
	req := struct {
		Items []types.ContentID `json:"items"`
	}{Items: items}
	if err := c.postJSON(ctx, "/v1/items/touch", req, &body); err != nil {
		return 0, err
	}
	return body.Touched, nil
}

func (c *ContentClient) TargetsForItem(ctx context.Context, item types.ContentID) ([]types.TargetID, error) {
	var body struct {
		Targets []types.TargetID `json:"targets"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/v1/items/%d/targets", item), nil, &body)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return body.Targets, nil
}

// --- TypeResolver ---

// ResolveType returns the numeric id for a content type name. Unknown names
// return an error so rule loading can drop them.
func (c *ContentClient) ResolveType(ctx context.Context, name string) (types.TypeID, error) {
	var body struct {
		ID types.TypeID `json:"id"`
	}
	err := c.getJSON(ctx, "/v1/content-types/"+url.PathEscape(name), nil, &body)
	if err == errNotFound {
		return 0, fmt.Errorf("unknown content type %q", name)
	}
	if err != nil {
		return 0, err
	}
	return body.ID, nil
}

// --- EditionResolver ---

func (c *ContentClient) Edition(ctx context.Context, id types.EditionID) (*types.Edition, error) {
	var edition types.Edition
	err := c.getJSON(ctx, fmt.Sprintf("/v1/editions/%d", id), nil, &edition)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edition, nil
}

// FindEdition returns the first edition on the site whose content lists use
// the named generator, or nil when none matches.
func (c *ContentClient) FindEdition(ctx context.Context, site types.TargetID, generator string) (*types.Edition, error) {
	query := url.Values{
		"siteId":    {strconv.FormatInt(int64(site), 10)},
		"generator": {generator},
	}
	var body struct {
		Editions []types.Edition `json:"editions"`
	}
	err := c.getJSON(ctx, "/v1/editions", query, &body)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(body.Editions) == 0 {
		return nil, nil
	}
	edition := body.Editions[0]
	return &edition, nil
}

// --- ItemPublisher ---

func (c *ContentClient) Assemble(ctx context.Context, edition types.EditionID, item types.ContentID) error {
	req := struct {
		Item types.ContentID `json:"item"`
	}{Item: item}
	return c.postJSON(ctx, fmt.Sprintf("/v1/editions/%d/assemble", edition), req, nil)
}

func (c *ContentClient) Deliver(ctx context.Context, edition types.EditionID, item types.ContentID) error {
	req := struct {
		Item types.ContentID `json:"item"`
	}{Item: item}
	return c.postJSON(ctx, fmt.Sprintf("/v1/editions/%d/deliver", edition), req, nil)
}
