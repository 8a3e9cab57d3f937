package serviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamwsm/internal/model"
)

// RemoteCore speaks to a discovered server over HTTP. Worker-only
// operations are not proxied; the server process runs those itself.
type RemoteCore struct {
	baseURL string
	client  *http.Client
}

func NewRemoteCore(baseURL string, timeout time.Duration) *RemoteCore {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteCore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *RemoteCore) Shutdown() {}

func (r *RemoteCore) CreateStream(ctx context.Context, stream model.Stream) (model.Stream, error) {
	var response struct {
		Stream model.Stream `json:"stream"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/streams", nil, stream, &response); err != nil {
		return model.Stream{}, err
	}
	return response.Stream, nil
}

func (r *RemoteCore) ListStreams(ctx context.Context, filter model.StreamFilter) ([]model.Stream, error) {
	query := map[string]string{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Category != "" {
		query["category"] = string(filter.Category)
	}
	if filter.Priority != "" {
		query["priority"] = string(filter.Priority)
	}
	var response struct {
		Streams []model.Stream `json:"streams"`
	}
	if err := r.doJSON(ctx, http.MethodGet, "/streams", query, nil, &response); err != nil {
		return nil, err
	}
	return response.Streams, nil
}

func (r *RemoteCore) GetStream(ctx context.Context, id string) (model.Stream, error) {
	var response struct {
		Stream model.Stream `json:"stream"`
	}
	if err := r.doJSON(ctx, http.MethodGet, "/streams/"+url.PathEscape(id), nil, nil, &response); err != nil {
		return model.Stream{}, err
	}
	return response.Stream, nil
}

func (r *RemoteCore) UpdateStream(ctx context.Context, id string, update model.StreamUpdate) (UpdateOutcome, error) {
	var outcome UpdateOutcome
	if err := r.doJSON(ctx, http.MethodPatch, "/streams/"+url.PathEscape(id), nil, update, &outcome); err != nil {
		return UpdateOutcome{}, err
	}
	return outcome, nil
}

func (r *RemoteCore) CompleteStream(ctx context.Context, id string) (model.Stream, error) {
	var response struct {
		Stream model.Stream `json:"stream"`
	}
	path := "/streams/" + url.PathEscape(id) + "/complete"
	if err := r.doJSON(ctx, http.MethodPost, path, nil, nil, &response); err != nil {
		return model.Stream{}, err
	}
	return response.Stream, nil
}

func (r *RemoteCore) StreamHistory(ctx context.Context, id string) ([]model.HistoryEvent, error) {
	var response struct {
		Events []model.HistoryEvent `json:"events"`
	}
	path := "/streams/" + url.PathEscape(id) + "/history"
	if err := r.doJSON(ctx, http.MethodGet, path, nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Events, nil
}

func (r *RemoteCore) ArchiveStream(ctx context.Context, id string, req RetireRequest) (RetireResult, error) {
	var result RetireResult
	path := "/streams/" + url.PathEscape(id) + "/archive"
	if err := r.doJSON(ctx, http.MethodPost, path, nil, req, &result); err != nil {
		return RetireResult{}, err
	}
	return result, nil
}

func (r *RemoteCore) ArchiveBulk(ctx context.Context, ids []string, req RetireRequest) []BulkArchiveResult {
	payload := struct {
		StreamIDs []string `json:"stream_ids"`
		RetireRequest
	}{StreamIDs: ids, RetireRequest: req}
	var response struct {
		Results []BulkArchiveResult `json:"results"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/streams/archive-bulk", nil, payload, &response); err != nil {
		results := make([]BulkArchiveResult, 0, len(ids))
		for _, id := range ids {
			results = append(results, BulkArchiveResult{StreamID: id, Err: err.Error()})
		}
		return results
	}
	return response.Results
}

func (r *RemoteCore) Stats(ctx context.Context) (model.Stats, error) {
	var response struct {
		Stats model.Stats `json:"stats"`
	}
	if err := r.doJSON(ctx, http.MethodGet, "/stats", nil, nil, &response); err != nil {
		return model.Stats{}, err
	}
	return response.Stats, nil
}

func (r *RemoteCore) Scan(ctx context.Context) (ScanResult, error) {
	var response struct {
		Scan ScanResult `json:"scan"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/sync", nil, nil, &response); err != nil {
		return ScanResult{}, err
	}
	return response.Scan, nil
}

func (r *RemoteCore) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	var response struct {
		Report ReconcileReport `json:"report"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/reconcile", nil, opts, &response); err != nil {
		return ReconcileReport{}, err
	}
	return response.Report, nil
}

func (r *RemoteCore) ProcessBusOnce(_ context.Context, _ int) (int, int, error) {
	return 0, 0, fmt.Errorf("remote core does not support ProcessBusOnce")
}

func (r *RemoteCore) BusHealth(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := r.doJSON(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(response.Status)) != "ok" {
		return fmt.Errorf("server health is degraded")
	}
	return nil
}

func (r *RemoteCore) OutboxStats() (model.OutboxStats, error) {
	var response struct {
		Outbox model.OutboxStats `json:"outbox"`
	}
	if err := r.doJSON(context.Background(), http.MethodGet, "/health", nil, nil, &response); err != nil {
		return model.OutboxStats{}, err
	}
	return response.Outbox, nil
}

func (r *RemoteCore) doJSON(ctx context.Context, method string, path string, query map[string]string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	parsed, err := url.Parse(r.baseURL + path)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, value := range query {
			values.Set(key, value)
		}
		parsed.RawQuery = values.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, parsed.String(), reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return decodeRemoteError(response.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func decodeRemoteError(status int, payload []byte) error {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && strings.TrimSpace(wrapper.Error.Code) != "" {
		return fmt.Errorf("%s (http %d): %s", wrapper.Error.Code, status, strings.TrimSpace(wrapper.Error.Message))
	}
	return fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(payload)))
}
