package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAPIError(t *testing.T) {
	err := decodeAPIError(http.StatusConflict, []byte(`{"errorType":"IllegalState","message":"task is running"}`))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "IllegalState", apiErr.ErrorType)
	assert.Equal(t, "IllegalState: task is running", apiErr.Error())
}

func TestDecodeAPIError_NonJSONBody(t *testing.T) {
	err := decodeAPIError(http.StatusBadGateway, []byte("upstream exploded"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestAPIError_Classification(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 404}).IsNotFound())
	assert.True(t, (&APIError{ErrorType: "InsufficientDiskSpace"}).IsInsufficientSpace())
	assert.True(t, (&APIError{ErrorType: "ValidationError"}).IsValidationError())
	assert.True(t, (&APIError{ErrorType: "FileTooLarge"}).IsValidationError())
	assert.False(t, (&APIError{ErrorType: "InternalError"}).IsValidationError())
}

func TestIsRetryable(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", &TransportError{Err: errors.New("connection refused")}, true},
		{"wrapped transport", fmt.Errorf("send chunk: %w", &TransportError{Err: errors.New("reset")}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"timeout 408", &APIError{StatusCode: 408}, true},
		{"throttled 429", &APIError{StatusCode: 429}, true},
		{"server 503", &APIError{StatusCode: 503, ErrorType: "InternalError"}, true},
		{"validation 400", &APIError{StatusCode: 400, ErrorType: "ValidationError"}, false},
		{"integrity 422", &APIError{StatusCode: 422, ErrorType: "ChunkIntegrity"}, false},
		{"not found 404", &APIError{StatusCode: 404, ErrorType: "NotFound"}, false},
		{"cancelled", context.Canceled, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
