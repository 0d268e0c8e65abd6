package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
)

type destinationInput struct {
	Name    string            `json:"name" validate:"required,max=128"`
	URL     string            `json:"url" validate:"required,destination_url"`
	Headers map[string]string `json:"headers" validate:"omitempty,dive,keys,header_name,endkeys"`
	MaxRPS  float64           `json:"max_rps" validate:"gte=0"`
}

type sourceInput struct {
	Name  string   `json:"name" validate:"required"`
	CIDRs []string `json:"ip_allow_cidrs" validate:"omitempty,dive,cidr"`
}

type routeInput struct {
	Pattern string `json:"content_type_like" validate:"omitempty,mime_pattern"`
}

func TestValidateStruct_Valid(t *testing.T) {
	err := ValidateStruct(destinationInput{
		Name:    "billing",
		URL:     "https://billing.example.com/hooks",
		Headers: map[string]string{"X-Team": "payments"},
		MaxRPS:  5,
	})
	assert.NoError(t, err)
}

func TestValidateStruct_UsesJSONNames(t *testing.T) {
	err := ValidateStruct(destinationInput{Name: "billing", URL: "ftp://nope"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "field 'url' must be an absolute http or https URL")
}

func TestValidateStruct_MultipleErrors(t *testing.T) {
	err := ValidateStruct(destinationInput{MaxRPS: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "'name' is required")
	assert.Contains(t, err.Error(), "'max_rps' must be at least 0")
}

func TestValidateStruct_HeaderNames(t *testing.T) {
	err := ValidateStruct(destinationInput{
		Name:    "billing",
		URL:     "http://localhost:8080",
		Headers: map[string]string{"Bad Header": "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid header name")
}

func TestValidateStruct_CIDRs(t *testing.T) {
	assert.NoError(t, ValidateStruct(sourceInput{Name: "s", CIDRs: []string{"10.0.0.0/8", "2001:db8::/32"}}))
	assert.Error(t, ValidateStruct(sourceInput{Name: "s", CIDRs: []string{"10.0.0.0/33"}}))
	assert.Error(t, ValidateStruct(sourceInput{Name: "s", CIDRs: []string{"banana"}}))
}

func TestValidateStruct_MimePattern(t *testing.T) {
	assert.NoError(t, ValidateStruct(routeInput{Pattern: "application/*"}))
	assert.NoError(t, ValidateStruct(routeInput{}))
	assert.Error(t, ValidateStruct(routeInput{Pattern: "application/ json"}))
}

func TestFields(t *testing.T) {
	cv := NewCentralizedValidator()
	assert.Nil(t, cv.Fields(sourceInput{Name: "ok"}))

	fields := cv.Fields(sourceInput{})
	require.Len(t, fields, 1)
	assert.Equal(t, "name", fields[0].Field)
	assert.Equal(t, "required", fields[0].Tag)
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("application/*", "mime_pattern"))
	assert.Error(t, ValidateVar("application json", "mime_pattern"))
	assert.NoError(t, ValidateVar("https://example.com/hook", "destination_url"))
	assert.Error(t, ValidateVar("ftp://example.com", "destination_url"))
}

func TestIsHeaderName(t *testing.T) {
	assert.True(t, IsHeaderName("X-Signature"))
	assert.True(t, IsHeaderName("x_custom.v2"))
	assert.False(t, IsHeaderName(""))
	assert.False(t, IsHeaderName("Bad:Header"))
	assert.False(t, IsHeaderName("héader"))
}

func TestIsDestinationURL(t *testing.T) {
	assert.True(t, IsDestinationURL("https://example.com"))
	assert.True(t, IsDestinationURL("http://10.0.0.1:9000/path?q=1"))
	assert.False(t, IsDestinationURL("/relative"))
	assert.False(t, IsDestinationURL("mailto:a@b.c"))
	assert.False(t, IsDestinationURL("https://"))
}
