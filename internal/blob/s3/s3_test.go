package s3blob

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"localhost:9000", false, "http://localhost:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseEndpoint(tt.endpoint, tt.useSSL))
		})
	}
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("head: %w", &types.NotFound{})))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", statusErr(404))))
	assert.False(t, isNotFound(statusErr(403)))
	assert.False(t, isNotFound(errors.New("connection refused")))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(context.Background(), ClientConfig{Bucket: "icons"})
	assert.ErrorContains(t, err, "region")
}

func TestNew_CustomEndpoint(t *testing.T) {
	c, err := New(context.Background(), ClientConfig{
		Endpoint:       "localhost:9000",
		Region:         "us-east-1",
		Bucket:         "icons",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "icons", c.Bucket())
	assert.NotNil(t, NewWriter(c).uploader)
	assert.Equal(t, "icons", NewReader(c).bucket)
}
