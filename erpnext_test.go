package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newERPClient(baseURL string) *ERPNextClient {
	return NewERPNextClient(testConfig(baseURL))
}

func TestValidateCredentialsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/method/frappe.auth.get_logged_user", r.URL.Path)
		assert.Equal(t, "token my-key:my-secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"message": "manager@example.com"})
	}))
	defer server.Close()

	ok, reason := newERPClient(server.URL).ValidateCredentials(context.Background(), "my-key", "my-secret")
	assert.True(t, ok)
	assert.Contains(t, reason, "manager@example.com")
}

func TestValidateCredentialsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	ok, reason := newERPClient(server.URL).ValidateCredentials(context.Background(), "bad", "bad")
	assert.False(t, ok)
	assert.Contains(t, reason, "401")
}

func TestValidateCredentialsConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	ok, reason := newERPClient(server.URL).ValidateCredentials(context.Background(), "k", "s")
	assert.False(t, ok)
	assert.Contains(t, reason, "Connection to ERPNext failed")
}

func TestValidateCredentialsUndecodableSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html>welcome</html>")
	}))
	defer server.Close()

	// A 2xx means the credentials worked even when the body is not JSON.
	ok, reason := newERPClient(server.URL).ValidateCredentials(context.Background(), "k", "s")
	assert.True(t, ok)
	assert.Contains(t, reason, "could not be decoded")
}

func TestFetchReportShapesQueryAndUnwrapsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/resource/Sales Order", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "5", query.Get("limit_page_length"))
		assert.Equal(t, "transaction_date desc", query.Get("order_by"))
		assert.Equal(t, `["name","customer_name","grand_total"]`, query.Get("fields"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"name": "SO-0001", "customer_name": "Akme", "grand_total": 1500.5},
			},
		})
	}))
	defer server.Close()

	rows, err := newERPClient(server.URL).FetchReport(context.Background(), "k", "s", testConfig(server.URL).Report)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SO-0001", rows[0]["name"])
}

func TestFetchReportMissingEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"message": "ok"})
	}))
	defer server.Close()

	_, err := newERPClient(server.URL).FetchReport(context.Background(), "k", "s", testConfig(server.URL).Report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected ERPNext response structure")
}

func TestFetchReportSurfacesUpstreamMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "Not permitted"})
	}))
	defer server.Close()

	_, err := newERPClient(server.URL).FetchReport(context.Background(), "k", "s", testConfig(server.URL).Report)
	require.Error(t, err)

	var erpErr *ERPNextError
	require.ErrorAs(t, err, &erpErr)
	assert.Equal(t, http.StatusForbidden, erpErr.StatusCode)
	assert.Equal(t, "Not permitted", erpErr.Message)
}

func TestCreateLeadPayload(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/resource/Lead", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"name": "CRM-LEAD-0001"},
		})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	lead, err := newERPClient(server.URL).CreateLead(context.Background(), "k", "s", cfg.Order, "Bekzod", "998901234567", "10 kg un")
	require.NoError(t, err)

	assert.Equal(t, "Lead", received["doctype"])
	assert.Equal(t, "Bekzod", received["lead_name"])
	assert.Equal(t, "Telegram Bot", received["source"])
	assert.Equal(t, "998901234567", received["mobile_no"])
	assert.Equal(t, "998901234567", received["phone"])
	assert.Equal(t, "10 kg un", received["notes"])

	data, ok := lead["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "CRM-LEAD-0001", data["name"])
}

func TestCreateLeadOmitsEmptyPhone(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"name": "L-1"}})
	}))
	defer server.Close()

	_, err := newERPClient(server.URL).CreateLead(context.Background(), "k", "s", testConfig(server.URL).Order, "Bekzod", "", "notes")
	require.NoError(t, err)
	assert.NotContains(t, received, "mobile_no")
	assert.NotContains(t, received, "phone")
}

func TestUploadFileMultipartFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/method/upload_file", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "1", r.FormValue("is_private"))
		assert.Equal(t, "Lead", r.FormValue("doctype"))
		assert.Equal(t, "CRM-LEAD-0001", r.FormValue("docname"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "order.jpg", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg-bytes"), content)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]interface{}{"file_url": "/private/files/order.jpg"},
		})
	}))
	defer server.Close()

	resp, err := newERPClient(server.URL).UploadFile(context.Background(), "k", "s", "order.jpg", []byte("jpeg-bytes"), "Lead", "CRM-LEAD-0001")
	require.NoError(t, err)

	message, ok := resp["message"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/private/files/order.jpg", message["file_url"])
}
