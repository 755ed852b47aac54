package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func TestParseWebhook_RoundTrip(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object_id":"ch_1","fee":3.2}}`)

	ev, err := ParseWebhook(testWebhookSecret, body, SignWebhook(testWebhookSecret, body, now), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventChargeSucceeded, ev.Type)
	assert.Equal(t, "ch_1", ev.Data.ObjectID)
	assert.Equal(t, 3.2, ev.Data.Fee)
}

func TestParseWebhook_Rejects(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object_id":"ch_1"}}`)
	valid := SignWebhook(testWebhookSecret, body, now)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
		at     time.Time
	}{
		{"no secret configured", "", body, valid, now},
		{"missing header", testWebhookSecret, body, "", now},
		{"missing signature", testWebhookSecret, body, "t=1760000000", now},
		{"bad timestamp", testWebhookSecret, body, "t=yesterday,v1=abc", now},
		{"too old", testWebhookSecret, body, valid, now.Add(WebhookTolerance + time.Second)},
		{"from the future", testWebhookSecret, body, valid, now.Add(-WebhookTolerance - time.Second)},
		{"wrong secret", "whsec_other", body, valid, now},
		{"tampered body", testWebhookSecret, []byte(`{"id":"evt_1","type":"charge.failed","data":{"object_id":"ch_1"}}`), valid, now},
		{"not json", testWebhookSecret, []byte("nope"), SignWebhook(testWebhookSecret, []byte("nope"), now), now},
		{"no object id", testWebhookSecret, []byte(`{"type":"charge.failed"}`), SignWebhook(testWebhookSecret, []byte(`{"type":"charge.failed"}`), now), now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseWebhook(tt.secret, tt.body, tt.header, tt.at)
			assert.ErrorIs(t, err, ErrInvalidWebhook)
			assert.Nil(t, ev)
		})
	}
}

func TestParseWebhook_HeaderOrderAndSpacing(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(`{"type":"transfer.updated","data":{"object_id":"tr_1","status":"paid"}}`)
	sig := SignWebhook(testWebhookSecret, body, now)

	ts, v1, ok := strings.Cut(sig, ",")
	require.True(t, ok)
	ev, err := ParseWebhook(testWebhookSecret, body, v1+", "+ts, now)
	require.NoError(t, err)
	assert.Equal(t, "paid", ev.Data.Status)
}

func TestChargeStatusForEvent(t *testing.T) {
	assert.Equal(t, ChargeSucceeded, chargeStatusForEvent(EventChargeSucceeded))
	assert.Equal(t, ChargeFailed, chargeStatusForEvent(EventChargeFailed))
	assert.Equal(t, ChargeRequiresAction, chargeStatusForEvent(EventChargeRequiresAction))
}
