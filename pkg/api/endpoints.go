package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
)

// LoginResponse carries the token issued by the auth endpoint.
type LoginResponse struct {
	Key string `json:"key"`
}

// Login exchanges credentials for an auth token. The request goes out
// without an Authorization header.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	raw, err := c.do(ctx, http.MethodPost, "auth/login/", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	var resp LoginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &resp, nil
}

// Logout invalidates the server-side session for the current token.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "auth/logout/", nil)
	return err
}

// Sources and processing methods

func (c *Client) ListSources(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/sources/", nil)
}

func (c *Client) ListProcessingMethods(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/processing_methods/", nil)
}

// Subjects

func (c *Client) ListSubjects(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/subjects/", nil)
}

func (c *Client) GetSubject(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/subjects/"+id+"/", nil)
}

func (c *Client) CreateSubject(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/subjects/", payload)
}

func (c *Client) DestroySubject(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "api/subjects/"+id+"/", nil)
	return err
}

// Sessions

func (c *Client) ListSessions(ctx context.Context, subjectID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/subjects/"+subjectID+"/sessions/", nil)
}

func (c *Client) GetSession(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/sessions/"+id+"/", nil)
}

func (c *Client) CreateSession(ctx context.Context, subjectID string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/subjects/"+subjectID+"/sessions/", payload)
}

func (c *Client) DestroySession(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "api/sessions/"+id+"/", nil)
	return err
}

// Datasets

func (c *Client) GetDataset(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/datasets/"+id+"/", nil)
}

func (c *Client) CreateDataset(ctx context.Context, sessionID string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/sessions/"+sessionID+"/datasets/", payload)
}

func (c *Client) DestroyDataset(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "api/datasets/"+id+"/", nil)
	return err
}

// RawFileUpload is one file registered with a freshly created dataset.
// Metadata travels in the request's JSON part, keyed by Key.
type RawFileUpload struct {
	Key      string
	Name     string
	Content  []byte
	Metadata map[string]any
}

// UploadRawFiles registers the raw files of a dataset in one multipart
// request: one part per file plus a JSON part holding per-key metadata.
func (c *Client) UploadRawFiles(ctx context.Context, datasetID string, files []RawFileUpload) (json.RawMessage, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metadata := make(map[string]map[string]any, len(files))
	for _, file := range files {
		part, err := writer.CreateFormFile(file.Key, file.Name)
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", file.Key, err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("write form file %s: %w", file.Key, err)
		}
		metadata[file.Key] = file.Metadata
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode file metadata: %w", err)
	}
	if err := writer.WriteField("JSON", string(metaJSON)); err != nil {
		return nil, fmt.Errorf("write metadata field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"api/datasets/"+datasetID+"/files/", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	return c.execute(req)
}

// Signals

func (c *Client) GetSignal(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/signals/"+id+"/", nil)
}

// FilterSignal asks the server to derive a filtered copy of a signal with
// the given filter method and configuration. The response is the new signal,
// born queued.
func (c *Client) FilterSignal(ctx context.Context, signalID, methodID string, configuration map[string]any) (json.RawMessage, error) {
	if configuration == nil {
		configuration = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, "api/filter/", map[string]any{
		"signal":        signalID,
		"filter":        methodID,
		"configuration": configuration,
	})
}

// Analysis labels

func (c *Client) ListAnalysisLabels(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/analysis_labels/", nil)
}

func (c *Client) CreateAnalysisLabel(ctx context.Context, name string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/analysis_labels/", map[string]string{"name": name})
}

// Analysis samples

func (c *Client) CreateAnalysisSample(ctx context.Context, sessionID string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/sessions/"+sessionID+"/analysis_samples/", payload)
}

func (c *Client) UpdateAnalysisSample(ctx context.Context, id string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "api/analysis_samples/"+id+"/", payload)
}

func (c *Client) DestroyAnalysisSample(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "api/analysis_samples/"+id+"/", nil)
	return err
}

// Analysis results

// AnalysisRequest is one signal x method computation request in a batch.
type AnalysisRequest struct {
	Signal        string         `json:"signal"`
	Label         string         `json:"label"`
	Method        string         `json:"method"`
	Configuration map[string]any `json:"configuration"`
}

func (c *Client) CreateAnalyses(ctx context.Context, batch []AnalysisRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/analysis/", batch)
}

func (c *Client) ListAnalysisResults(ctx context.Context, sessionID string) (json.RawMessage, error) {
	path := "api/analysis/"
	if sessionID != "" {
		path += "?" + url.Values{"session": {sessionID}}.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) GetAnalysisResult(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "api/analysis/"+id+"/", nil)
}

// Analysis snapshots

func (c *Client) ListAnalysisSnapshots(ctx context.Context, sessionID string) (json.RawMessage, error) {
	path := "api/analysis_snapshots/"
	if sessionID != "" {
		path += "?" + url.Values{"session": {sessionID}}.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) CreateAnalysisSnapshot(ctx context.Context, name string, analyses []string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "api/analysis_snapshots/", map[string]any{
		"name":     name,
		"analyses": analyses,
	})
}
