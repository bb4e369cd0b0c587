package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConnectionString = "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net"

func TestNewAzureBlobClient_Validation(t *testing.T) {
	logger := zap.NewNop()

	testCases := []struct {
		name             string
		connectionString string
		containerName    string
		logger           *zap.Logger
		errContains      string
	}{
		{
			name:             "empty connection string",
			connectionString: "",
			containerName:    "results",
			logger:           logger,
			errContains:      "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: testConnectionString,
			containerName:    "",
			logger:           logger,
			errContains:      "container name is required",
		},
		{
			name:             "nil logger",
			connectionString: testConnectionString,
			containerName:    "results",
			logger:           nil,
			errContains:      "logger is required",
		},
		{
			name:             "missing account key",
			connectionString: "AccountName=test",
			containerName:    "results",
			logger:           logger,
			errContains:      "account name and key are required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tc.connectionString, tc.containerName, tc.logger)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=acc;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/acc;;")

	assert.Equal(t, "acc", params["AccountName"])
	assert.Equal(t, "a2V5", params["AccountKey"])
	assert.Equal(t, "http://127.0.0.1:10000/acc", params["BlobEndpoint"])
}

func TestExtractBlobPath(t *testing.T) {
	logger := zap.NewNop()
	client, err := NewAzureBlobClient(testConnectionString, "results", logger)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		reference string
		expected  string
		wantErr   bool
	}{
		{
			name:      "bare path",
			reference: "jobs/abc/document.json",
			expected:  "jobs/abc/document.json",
		},
		{
			name:      "full service url",
			reference: "https://test.blob.core.windows.net/results/jobs/abc/table.csv",
			expected:  "jobs/abc/table.csv",
		},
		{
			name:      "url with sas query",
			reference: "https://test.blob.core.windows.net/results/jobs/abc/table.csv?sig=xyz",
			expected:  "jobs/abc/table.csv",
		},
		{
			name:      "empty reference",
			reference: "  ",
			wantErr:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := client.extractBlobPath(tc.reference)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/csv", contentTypeFor("results/x/table.csv"))
	assert.Equal(t, "application/json", contentTypeFor("jobs/x/document.json"))
	assert.Equal(t, "application/yaml", contentTypeFor("jobs/x/document.yaml"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("misc/blob"))
}
