package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medication-api/pkg/errors"
)

func TestParseTimeParam(t *testing.T) {
	loc := time.UTC

	got, err := ParseTimeParam("2024-03-11T08:00:00+02:00", loc, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)))

	got, err = ParseTimeParam("2024-03-11", loc, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, loc), got)

	got, err = ParseTimeParam("2024-03-11", loc, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 23, 59, 59, 999999999, loc), got)

	_, err = ParseTimeParam("yesterday", loc, false)
	assert.Error(t, err)
}

func TestRespondWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err     error
		status  int
		message string
	}{
		{errors.NotFound("medication", nil), http.StatusNotFound, "medication not found"},
		{errors.NewValidation("end_date", "must not be before start_date"), http.StatusBadRequest, "invalid end_date: must not be before start_date"},
		{errors.Internal(fmt.Errorf("pq: connection refused")), http.StatusInternalServerError, "internal server error"},
		{fmt.Errorf("raw"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		RespondWithError(c, tt.err)

		assert.Equal(t, tt.status, w.Code)
		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, tt.message, resp.Error.Message)
	}
}

func TestTimeRangeRequiresBothBounds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/adherence?start_date=2024-03-01", nil)

	_, _, err := TimeRange(c, time.UTC)
	assert.True(t, errors.IsValidation(err))
}
