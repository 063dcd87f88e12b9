package powervs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
)

// DefaultEndpoint lists the workspaces of an account.
const DefaultEndpoint = "https://us-east.power-iaas.cloud.ibm.com"

// DefaultStorageType is used for imports that do not name a tier.
const DefaultStorageType = "tier3"

// Client talks to the workspace control plane using a per-account bearer token.
type Client struct {
	api      *cloudapi.Client
	endpoint string
}

// New constructs a Client. An empty endpoint selects DefaultEndpoint.
func New(api *cloudapi.Client, endpoint string) *Client {
	if api == nil {
		api = cloudapi.New()
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{api: api, endpoint: endpoint}
}

// ListWorkspaces returns every workspace visible to token.
func (c *Client) ListWorkspaces(ctx context.Context, token string) ([]Workspace, error) {
	req := cloudapi.Request{URL: c.endpoint + "/v1/workspaces"}.
		WithHeader("Authorization", bearer(token))
	resp, err := c.api.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	var body struct {
		Workspaces []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Location struct {
				URL string `json:"url"`
			} `json:"location"`
			Details struct {
				CRN string `json:"crn"`
			} `json:"details"`
		} `json:"workspaces"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	out := make([]Workspace, 0, len(body.Workspaces))
	for _, ws := range body.Workspaces {
		out = append(out, Workspace{
			ID:      ws.ID,
			Name:    ws.Name,
			CRN:     ws.Details.CRN,
			BaseURL: strings.TrimRight(ws.Location.URL, "/"),
		})
	}
	return out, nil
}

// ListImages returns the boot image catalog of ws.
func (c *Client) ListImages(ctx context.Context, token string, ws Workspace) ([]Image, error) {
	req, err := workspaceRequest(ws, token, "images")
	if err != nil {
		return nil, err
	}
	resp, err := c.api.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var body struct {
		Images []Image `json:"images"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return body.Images, nil
}

// ImportImage submits a cos-image import job and returns its reference.
func (c *Client) ImportImage(ctx context.Context, token string, ws Workspace, in ImportRequest) (ImportJob, error) {
	if in.StorageType == "" {
		in.StorageType = DefaultStorageType
	}
	base, err := workspaceRequest(ws, token, "cos-images")
	if err != nil {
		return ImportJob{}, err
	}
	req, err := cloudapi.JSON(base.URL, in)
	if err != nil {
		return ImportJob{}, err
	}
	req.Header = base.Header

	resp, err := c.api.Post(ctx, req)
	if err != nil {
		return ImportJob{}, fmt.Errorf("import image: %w", err)
	}
	var ref struct {
		ID string `json:"id"`
	}
	if len(resp.Body) > 0 {
		if err := resp.Decode(&ref); err != nil {
			return ImportJob{}, fmt.Errorf("import image: %w", err)
		}
	}
	return ImportJob{ID: ref.ID, State: JobStateQueued}, nil
}

// DeleteImage removes imageID from ws.
func (c *Client) DeleteImage(ctx context.Context, token string, ws Workspace, imageID string) error {
	if imageID == "" {
		return errors.New("image id is required")
	}
	req, err := workspaceRequest(ws, token, "images/"+url.PathEscape(imageID))
	if err != nil {
		return err
	}
	if _, err := c.api.Delete(ctx, req); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// LastImportJob returns the most recent cos-image job of ws. A workspace that never
// imported an image yields a 404 *cloudapi.APIError.
func (c *Client) LastImportJob(ctx context.Context, token string, ws Workspace) (ImportJob, error) {
	req, err := workspaceRequest(ws, token, "cos-images")
	if err != nil {
		return ImportJob{}, err
	}
	resp, err := c.api.Get(ctx, req)
	if err != nil {
		return ImportJob{}, fmt.Errorf("last import job: %w", err)
	}
	var body struct {
		ID     string `json:"id"`
		Status struct {
			State   string `json:"state"`
			Message string `json:"message"`
		} `json:"status"`
	}
	if err := resp.Decode(&body); err != nil {
		return ImportJob{}, fmt.Errorf("last import job: %w", err)
	}
	return ImportJob{ID: body.ID, State: body.Status.State, Message: body.Status.Message}, nil
}

func workspaceRequest(ws Workspace, token, suffix string) (cloudapi.Request, error) {
	if ws.ID == "" || ws.BaseURL == "" {
		return cloudapi.Request{}, fmt.Errorf("workspace %q has no id or base url", ws.Name)
	}
	target := fmt.Sprintf("%s/pcloud/v1/cloud-instances/%s/%s", ws.BaseURL, url.PathEscape(ws.ID), suffix)
	return cloudapi.Request{URL: target}.
		WithHeader("Authorization", bearer(token)).
		WithHeader("CRN", ws.CRN), nil
}

func bearer(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
