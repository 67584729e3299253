package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
)

type quoteRequest struct {
	State  string `json:"state" validate:"required,len=2,alpha"`
	Method string `json:"payment_method_type" validate:"required,oneof=card bank_account"`
}

func decode(body string) error {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest quoteRequest
	return DecodeJSONBody(httptest.NewRecorder(), req, &dest)
}

func TestDecodeJSONBodyValidatesTags(t *testing.T) {
	require.NoError(t, decode(`{"state":"NY","payment_method_type":"card"}`))

	err := decode(`{"state":"New York","payment_method_type":"cash"}`)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Equal(t, "must be exactly 2 characters", details["state"])
	assert.Equal(t, "must be one of: card bank_account", details["payment_method_type"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"":                       "is required",
		`{"state":`:              "is not valid JSON",
		`{"state":12}`:           "field state has the wrong type",
		`{"zip":"10001"}`:        `unknown field "zip"`,
		`{"state":"NY"} {"x":1}`: "must contain a single JSON object",
	}
	for body, want := range cases {
		err := decode(body)
		require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), body)
		details := pkgerrors.As(err).Details().(map[string]string)
		assert.Equal(t, want, details["body"], body)
	}
}

func TestParsePaginationBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	params, err := ParsePagination(req)
	require.NoError(t, err)
	assert.Equal(t, 10, params.Limit)
	assert.Equal(t, "abc", params.Cursor)

	_, err = ParsePagination(httptest.NewRequest(http.MethodGet, "/?limit=1000", nil))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestParseQueryBool(t *testing.T) {
	v, err := ParseQueryBool(httptest.NewRequest(http.MethodDelete, "/?immediately=true", nil), "immediately")
	require.NoError(t, err)
	assert.True(t, v)

	_, err = ParseQueryBool(httptest.NewRequest(http.MethodDelete, "/?immediately=soon", nil), "immediately")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
