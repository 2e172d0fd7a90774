package failure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_StatusCode(t *testing.T) {
	tests := []struct {
		status int
		code   Code
	}{
		{404, CodeNotFound},
		{486, CodeBusy},
		{600, CodeBusy},
		{480, CodeUnavailable},
		{503, CodeUnavailable},
		{484, CodeAddressIncomplete},
		{488, CodeIncompatibleSDP},
		{401, CodeAuthenticationError},
		{407, CodeAuthenticationError},
		{408, CodeRequestTimeout},
		{487, CodeCanceled},
		{603, CodeRejected},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := Classify(Event{StatusCode: tt.status})
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.NotEmpty(t, got.Phrase)
		})
	}
}

func TestClassify_StatusBeatsCause(t *testing.T) {
	got := Classify(Event{Cause: "Rejected", StatusCode: 404})
	assert.Equal(t, CodeNotFound, got.Code)
	assert.Equal(t, "Número inexistente", got.Phrase)
}

func TestClassify_Cause(t *testing.T) {
	tests := []struct {
		cause string
		code  Code
	}{
		{"Not Found", CodeNotFound},
		{"Busy", CodeBusy},
		{"Unavailable", CodeUnavailable},
		{"Rejected", CodeRejected},
		{"Address Incomplete", CodeAddressIncomplete},
		{"Incompatible SDP", CodeIncompatibleSDP},
		{"Missing SDP", CodeMissingSDP},
		{"Authentication Error", CodeAuthenticationError},
		{"Request Timeout", CodeRequestTimeout},
		{"No Answer", CodeNoAnswer},
		{"Connection Error", CodeConnectionError},
		{"User Denied Media Access", CodeUserDeniedMediaAccess},
		{"RTP Timeout", CodeRTPTimeout},
		{"Dialog Error", CodeDialogError},
		{"No ACK", CodeNoACK},
		{"Expires", CodeExpires},
		{"Canceled", CodeCanceled},
		{"CANCELLED", CodeCanceled},
		{"request-timeout", CodeRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.cause, func(t *testing.T) {
			assert.Equal(t, tt.code, Classify(Event{Cause: tt.cause}).Code)
		})
	}
}

func TestClassify_Unknown(t *testing.T) {
	got := Classify(Event{Cause: "Something Odd", StatusCode: 499})
	assert.Equal(t, CodeUnknown, got.Code)
	assert.Equal(t, CategoryUnknown, got.Category)
	assert.Equal(t, "Falha desconhecida", got.Phrase)
	assert.Equal(t, 499, got.StatusCode)

	assert.Equal(t, CodeUnknown, Classify(Event{}).Code)
}

func TestIsNormalTermination(t *testing.T) {
	assert.True(t, IsNormalTermination("Terminated"))
	assert.True(t, IsNormalTermination(" BYE "))
	assert.False(t, IsNormalTermination("Canceled"))
	assert.False(t, IsNormalTermination(""))
}

func TestIsNoAnswer(t *testing.T) {
	assert.True(t, IsNoAnswer(CodeNoAnswer))
	assert.True(t, IsNoAnswer(CodeRequestTimeout))
	assert.True(t, IsNoAnswer(CodeCanceled))
	assert.False(t, IsNoAnswer(CodeRejected))
	assert.False(t, IsNoAnswer(CodeBusy))
	assert.False(t, IsNoAnswer(CodeUnknown))
}

func TestPlacement(t *testing.T) {
	c := Placement(errors.New("softphone not connected"))
	assert.Equal(t, CodePlacementError, c.Code)
	assert.Equal(t, "Falha ao originar chamada: softphone not connected", c.Phrase)
	assert.False(t, IsNoAnswer(c.Code))
	assert.Equal(t, "Falha ao originar chamada", Placement(nil).Phrase)
}
