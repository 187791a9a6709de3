package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ERPNextError is returned when ERPNext rejects a request or answers with an
// unusable payload. The gateway never retries; callers decide user messaging.
type ERPNextError struct {
	StatusCode int
	Message    string
}

func (e *ERPNextError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ERPNext responded with %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// ERPNextClient is a stateless adapter for the ERPNext HTTP API. Every call
// takes the tenant's decrypted key/secret explicitly; nothing is cached.
type ERPNextClient struct {
	baseURL        string
	verifyEndpoint string
	httpClient     *http.Client
}

func NewERPNextClient(cfg BotConfig) *ERPNextClient {
	return &ERPNextClient{
		baseURL:        strings.TrimRight(cfg.FrappeBaseURL, "/"),
		verifyEndpoint: cfg.VerificationEndpoint,
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func authHeader(apiKey, apiSecret string) string {
	return fmt.Sprintf("token %s:%s", apiKey, apiSecret)
}

// decodeResponse maps any >=400 status to an ERPNextError carrying the
// upstream message when one can be extracted.
func decodeResponse(resp *http.Response) (map[string]interface{}, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to read ERPNext response: %v", err)}
	}
	if resp.StatusCode >= 400 {
		message := string(body)
		var payload map[string]interface{}
		if json.Unmarshal(body, &payload) == nil {
			if m, ok := payload["message"].(string); ok && m != "" {
				message = m
			} else if e, ok := payload["exc"].(string); ok && e != "" {
				message = e
			}
		}
		return nil, &ERPNextError{StatusCode: resp.StatusCode, Message: message}
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ERPNextError{Message: "ERPNext returned an invalid JSON payload"}
	}
	return payload, nil
}

// ValidateCredentials performs a lightweight authenticated identity check.
// It never returns an error: any failure becomes ok=false with a reason.
func (c *ERPNextClient) ValidateCredentials(ctx context.Context, apiKey, apiSecret string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.verifyEndpoint, nil)
	if err != nil {
		return false, fmt.Sprintf("Connection to ERPNext failed: %v", err)
	}
	req.Header.Set("Authorization", authHeader(apiKey, apiSecret))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("Connection to ERPNext failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return false, "ERPNext rejected the API credentials (401 Unauthorized)."
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return false, fmt.Sprintf("ERPNext returned %d: %s", resp.StatusCode, string(body))
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		// A 2xx with an undecodable body still counts as valid credentials.
		return true, "Credentials valid, but ERPNext response could not be decoded."
	}
	user, _ := payload["message"].(string)
	if user == "" {
		user, _ = payload["full_name"].(string)
	}
	if user != "" {
		return true, fmt.Sprintf("Credentials validated for %s", user)
	}
	return true, "Credentials validated successfully."
}

// FetchReport reads a bounded, ordered page of the configured resource with
// the configured field projection. A response without the expected "data"
// envelope is a hard error.
func (c *ERPNextClient) FetchReport(ctx context.Context, apiKey, apiSecret string, settings ReportSettings) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("limit_page_length", strconv.Itoa(settings.Limit))
	params.Set("order_by", settings.OrderBy)
	if len(settings.Fields) > 0 {
		fields, err := json.Marshal(settings.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report fields: %w", err)
		}
		params.Set("fields", string(fields))
	}

	endpoint := fmt.Sprintf("%s/api/resource/%s?%s", c.baseURL, url.PathEscape(settings.Resource), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to build report request: %v", err)}
	}
	req.Header.Set("Authorization", authHeader(apiKey, apiSecret))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to reach ERPNext for report data: %v", err)}
	}
	defer resp.Body.Close()

	payload, err := decodeResponse(resp)
	if err != nil {
		return nil, err
	}
	rawData, ok := payload["data"].([]interface{})
	if !ok {
		return nil, &ERPNextError{Message: "unexpected ERPNext response structure while fetching report data"}
	}
	rows := make([]map[string]interface{}, 0, len(rawData))
	for _, item := range rawData {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// CreateLead creates one record of the configured target doctype.
func (c *ERPNextClient) CreateLead(ctx context.Context, apiKey, apiSecret string, settings OrderSettings, leadName, phone, notes string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"doctype":   settings.TargetDoctype,
		"lead_name": leadName,
		"status":    settings.Status,
		"source":    settings.LeadSource,
		"notes":     notes,
	}
	if phone != "" {
		payload["mobile_no"] = phone
		payload["phone"] = phone
	}
	if settings.Territory != "" {
		payload["territory"] = settings.Territory
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lead payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/resource/%s", c.baseURL, url.PathEscape(settings.TargetDoctype))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to build lead request: %v", err)}
	}
	req.Header.Set("Authorization", authHeader(apiKey, apiSecret))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to create lead in ERPNext: %v", err)}
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

// UploadFile sends a private multipart upload, optionally attaching it to a
// previously created record.
func (c *ERPNextClient) UploadFile(ctx context.Context, apiKey, apiSecret, fileName string, data []byte, attachToDoctype, attachToName string) (map[string]interface{}, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	fields := map[string]string{"is_private": "1"}
	if attachToDoctype != "" {
		fields["doctype"] = attachToDoctype
	}
	if attachToName != "" {
		fields["docname"] = attachToName
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/method/upload_file", &buf)
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to build upload request: %v", err)}
	}
	req.Header.Set("Authorization", authHeader(apiKey, apiSecret))
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ERPNextError{Message: fmt.Sprintf("failed to upload file to ERPNext: %v", err)}
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}
