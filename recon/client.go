package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
)

// fieldbookClient talks to the remote record source's REST surface. All
// requests share one time.Tick limiter so the whole process stays under
// the remote's rate limit regardless of worker count.
type fieldbookClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
	pageSize  int
}

// kindPaths maps entity kinds onto the remote source's sheet paths.
var kindPaths = map[models.EntityKind]string{
	models.KindCustomer:     "/v1/sheets/customers/records",
	models.KindAgent:        "/v1/sheets/agents/records",
	models.KindInvoice:      "/v1/sheets/invoices/records",
	models.KindLineItem:     "/v1/sheets/invoice_line_items/records",
	models.KindPayment:      "/v1/sheets/payments/records",
	models.KindRegistration: "/v1/sheets/registrations/records",
}

func NewFieldbookClient() (RemoteSource, error) {
	apiKey := strings.TrimSpace(os.Getenv("FIELDBOOK_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("fieldbook api key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("FIELDBOOK_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.fieldbook.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("FIELDBOOK_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := utils.IntFromEnv("FIELDBOOK_RATE_LIMIT_PER_MIN", 60)
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 60
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &fieldbookClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
		pageSize:  utils.IntFromEnv("FIELDBOOK_PAGE_SIZE", 100),
	}, nil
}

type fieldbookListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *fieldbookClient) FetchBatch(ctx context.Context, kind models.EntityKind, updatedSince string, cursor string) (Batch, error) {
	path, ok := kindPaths[kind]
	if !ok {
		return Batch{}, fmt.Errorf("no remote path for kind %q", kind)
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	if updatedSince != "" {
		params.Set("updated_since", updatedSince)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	parsed, err := c.getJSON(ctx, path, params)
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", utils.ErrorRemoteUnavailable, err)
	}

	raws := parsed.Data
	if len(raws) == 0 {
		raws = parsed.Items
	}
	records := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		rec, err := decodeRawRecord(raw)
		if err != nil {
			// One malformed record is not a fetch failure; the mapper gets
			// nothing to map and the orchestrator counts it.
			records = append(records, map[string]any{})
			continue
		}
		records = append(records, rec)
	}

	hasMore := parsed.NextCursor != ""
	if parsed.HasMore != nil {
		hasMore = *parsed.HasMore
	}
	return Batch{Records: records, NextCursor: parsed.NextCursor, HasMore: hasMore}, nil
}

func (c *fieldbookClient) FetchByID(ctx context.Context, kind models.EntityKind, externalId string) (map[string]any, error) {
	path, ok := kindPaths[kind]
	if !ok {
		return nil, fmt.Errorf("no remote path for kind %q", kind)
	}

	<-c.limiter
	endpoint := c.baseURL + path + "/" + url.PathEscape(externalId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: api error %d: %s", utils.ErrorRemoteUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return decodeRawRecord(body)
}

func (c *fieldbookClient) getJSON(ctx context.Context, path string, params url.Values) (fieldbookListResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fieldbookListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fieldbookListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fieldbookListResponse{}, fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed fieldbookListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fieldbookListResponse{}, err
	}
	return parsed, nil
}

// decodeRawRecord keeps numbers as json.Number so the mapper's integer
// coercion doesn't lose precision through float64.
func decodeRawRecord(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
