package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// batchSize is the tracker's per-request limit on the work items
// batch endpoint.
const batchSize = 200

// AzureConfig configures the Azure DevOps REST client.
type AzureConfig struct {
	BaseURL      string
	Organization string
	Project      string
	PAT          string
	APIVersion   string
	Timeout      time.Duration
}

// AzureClient implements Source against the Azure DevOps REST API.
type AzureClient struct {
	cfg        AzureConfig
	client     *http.Client
	log        zerolog.Logger
	maxRetries int
}

var _ Source = (*AzureClient)(nil)

// NewAzureClient creates an Azure DevOps client. PAT may be empty for
// anonymous access to public projects.
func NewAzureClient(cfg AzureConfig, log zerolog.Logger) *AzureClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dev.azure.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "7.1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &AzureClient{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        log,
		maxRetries: 3,
	}
}

type wiqlResponse struct {
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
}

type batchResponse struct {
	Count int            `json:"count"`
	Value []ItemSnapshot `json:"value"`
}

type commentListResponse struct {
	TotalCount int               `json:"totalCount"`
	Count      int               `json:"count"`
	Comments   []CommentSnapshot `json:"comments"`
}

// ListIDs runs a WIQL query selecting every work item under areaPath.
func (c *AzureClient) ListIDs(ctx context.Context, areaPath string) ([]int, error) {
	wiql := fmt.Sprintf(
		"SELECT [System.Id] FROM WorkItems WHERE [System.AreaPath] UNDER '%s'",
		strings.ReplaceAll(areaPath, "'", "''"),
	)
	body, _ := json.Marshal(map[string]string{"query": wiql})

	url := fmt.Sprintf("%s/_apis/wit/wiql?api-version=%s", c.projectURL(), c.cfg.APIVersion)
	c.log.Debug().Str("area_path", areaPath).Msg("wiql query")

	var out wiqlResponse
	if err := c.do(ctx, http.MethodPost, url, body, &out); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(out.WorkItems))
	for _, wi := range out.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids, nil
}

// FetchBatch fetches full snapshots for ids, chunked at the tracker's
// 200-id batch limit. A nil fields list requests all fields and
// expands relations (field selection and relation expansion are
// mutually exclusive on this endpoint).
func (c *AzureClient) FetchBatch(ctx context.Context, ids []int, fields []string) ([]ItemSnapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var all []ItemSnapshot
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		var url strings.Builder
		url.WriteString(c.projectURL())
		url.WriteString("/_apis/wit/workitems?ids=")
		url.WriteString(joinIDs(chunk))
		if len(fields) > 0 {
			url.WriteString("&fields=")
			url.WriteString(strings.Join(fields, ","))
		} else {
			url.WriteString("&$expand=relations")
		}
		url.WriteString("&api-version=")
		url.WriteString(c.cfg.APIVersion)

		c.log.Debug().Int("batch", len(chunk)).Msg("fetch work items batch")

		var out batchResponse
		if err := c.do(ctx, http.MethodGet, url.String(), nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Value...)
	}
	return all, nil
}

// FetchLightweight fetches id+watermark snapshots only.
func (c *AzureClient) FetchLightweight(ctx context.Context, ids []int) ([]ItemSnapshot, error) {
	return c.FetchBatch(ctx, ids, []string{FieldID, FieldWatermark})
}

// FetchComments returns all comments on one work item.
func (c *AzureClient) FetchComments(ctx context.Context, itemID int) ([]CommentSnapshot, error) {
	url := fmt.Sprintf("%s/_apis/wit/workitems/%d/comments?api-version=%s-preview.4",
		c.projectURL(), itemID, c.cfg.APIVersion)

	var out commentListResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

func (c *AzureClient) projectURL() string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.Organization, c.cfg.Project)
}

// do issues one request with retry on 429/5xx and decodes the JSON
// response into out. 4xx responses are wrapped in ErrClient and never
// retried; exhausted retries and network failures wrap ErrTransient.
func (c *AzureClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrClient, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cfg.PAT != "" {
			token := base64.StdEncoding.EncodeToString([]byte(":" + c.cfg.PAT))
			req.Header.Set("Authorization", "Basic "+token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransient, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := resp.Header.Get("Retry-After")
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w: %s returned %s", ErrTransient, url, resp.Status)
			if delay != "" {
				if secs, err := strconv.Atoi(delay); err == nil {
					select {
					case <-time.After(time.Duration(secs) * time.Second):
					case <-ctx.Done():
						return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
					}
				}
			}
			continue
		}

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return fmt.Errorf("%w: %s returned %s: %s", ErrClient, url, resp.Status, strings.TrimSpace(string(msg)))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrTransient, err)
		}
		return nil
	}
	return lastErr
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func retryDelay(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
