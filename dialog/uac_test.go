package dialog

import (
	"testing"

	"github.com/mjagdis/sipcore/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseWithToTag(code int, reason, tag string) *sip.Response {
	res := sip.NewResponse(code, reason)
	to := &sip.ToHeader{
		Address: sip.Uri{User: "bob", Host: "example.com"},
		Params:  sip.NewParams(),
	}
	if tag != "" {
		to.Params.Add("tag", tag)
	}
	res.AppendHeader(to)
	return res
}

func TestHandleUACFinalProvisionalThenSuccess(t *testing.T) {
	reg := NewRegistry()
	d := New("", "call1", "localTag", nil)
	reg.CreateProvisional(d)

	got, result := HandleUACFinal(reg, "call1", "localTag", responseWithToTag(180, "Ringing", "remote1"))
	require.NotNil(t, got)
	assert.False(t, result.Established)
	assert.False(t, result.Failed)
	assert.Equal(t, StateInit, got.State())

	got, result = HandleUACFinal(reg, "call1", "localTag", responseWithToTag(200, "OK", "remote1"))
	require.NotNil(t, got)
	assert.True(t, result.Established)
	assert.Equal(t, StateConfirmed, got.State())
}

func TestHandleUACFinalRejection(t *testing.T) {
	reg := NewRegistry()
	d := New("", "call2", "localTag", nil)
	reg.CreateProvisional(d)

	got, result := HandleUACFinal(reg, "call2", "localTag", responseWithToTag(486, "Busy Here", "remote2"))
	require.NotNil(t, got)
	assert.True(t, result.Failed)
	assert.Equal(t, 486, result.StatusCode)
	assert.Equal(t, StateEnded, got.State())
}

func TestReverseRouteSet(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "bob", Host: "example.com"})
	req.AppendHeader(sip.NewHeader("Record-Route", "<sip:proxy1;lr>"))
	req.AppendHeader(sip.NewHeader("Record-Route", "<sip:proxy2;lr>"))

	got := ReverseRouteSet(req)
	assert.Equal(t, []string{"<sip:proxy2;lr>", "<sip:proxy1;lr>"}, got)
}
