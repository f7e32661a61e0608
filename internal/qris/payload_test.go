package qris_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xstbot/topup/internal/qris"
)

// Static payload fixture: point-of-initiation 010211, country code
// 5802ID, trailing 4-char checksum placeholder (stripped before the
// rewrite, so its value does not matter here).
const staticPayload = "00020101021126610014COM.GO-JEK.WWW0118936000914300000001END5802ID5914TEST MERCHANT6007JAKARTA6304ABCD"

func TestChecksum(t *testing.T) {
	// CRC-16/CCITT-FALSE check value.
	assert.Equal(t, "29B1", qris.Checksum("123456789"))
	assert.Equal(t, "FFFF", qris.Checksum(""))
}

func TestDynamicPayload(t *testing.T) {
	payload, err := qris.DynamicPayload(staticPayload, 50001)
	require.NoError(t, err)

	assert.Contains(t, payload, "010212", "point of initiation flips to dynamic")
	assert.NotContains(t, payload, "010211")
	assert.Contains(t, payload, "540550001"+"5802ID", "tag 54 lands right before the country code")

	body := payload[:len(payload)-4]
	assert.Equal(t, qris.Checksum(body), payload[len(payload)-4:])
}

func TestDynamicPayload_AmountLength(t *testing.T) {
	payload, err := qris.DynamicPayload(staticPayload, 7)
	require.NoError(t, err)
	assert.Contains(t, payload, "54017"+"5802ID")

	_, err = qris.DynamicPayload(staticPayload, 12345678901234)
	assert.Error(t, err)
}

func TestDynamicPayload_Malformed(t *testing.T) {
	_, err := qris.DynamicPayload("0002", 50001)
	assert.ErrorIs(t, err, qris.ErrMalformedPayload)

	noCountry := strings.ReplaceAll(staticPayload, "5802ID", "5802XX")

	_, err = qris.DynamicPayload(noCountry, 50001)
	assert.ErrorIs(t, err, qris.ErrMalformedPayload)
}
