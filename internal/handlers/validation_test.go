package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/charlesng35/fixhub/pkg/errors"
	appValidator "github.com/charlesng35/fixhub/pkg/validator"
)

func TestFormatValidationError(t *testing.T) {
	type payload struct {
		Content string `json:"content" validate:"required,notblank"`
		Kind    string `json:"kind" validate:"omitempty,message_kind"`
		Ref     string `json:"client_ref" validate:"omitempty,max=4"`
	}

	err := appValidator.ValidateStruct(payload{Content: " ", Kind: "shout", Ref: "too-long"})
	require.Error(t, err)
	msg := formatValidationError(err)
	require.Contains(t, msg, "content is required")
	require.Contains(t, msg, "kind has an unsupported value")
	require.Contains(t, msg, "client ref must be at most 4 characters")

	require.Equal(t, "invalid request payload", formatValidationError(errors.New("boom")))
	require.Equal(t, "invalid request payload", formatValidationError(nil))
}

func TestParseTimeQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newContext := func(query string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/signals"+query, nil)
		return c
	}

	ts, err := parseTimeQuery(newContext(""), "since")
	require.NoError(t, err)
	require.True(t, ts.IsZero())

	ts, err = parseTimeQuery(newContext("?since=2026-10-19T08:30:00.123Z"), "since")
	require.NoError(t, err)
	require.Equal(t, 123000000, ts.Nanosecond())

	_, err = parseTimeQuery(newContext("?since=yesterday"), "since")
	require.ErrorIs(t, err, appErrors.ErrBadRequest)
}

func TestParseIntQueryFallsBack(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=abc&offset=7", nil)

	require.Equal(t, 25, parseIntQuery(c, "limit", 25))
	require.Equal(t, 7, parseIntQuery(c, "offset", 0))
	require.Equal(t, 3, parseIntQuery(c, "missing", 3))
}
