package ordermsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshal(t *testing.T) {
	t.Run("valid message", func(t *testing.T) {
		body := []byte(`{"userId":1,"productId":102,"quantity":3,"dedupKey":"abc-123"}`)

		m, err := Unmarshal(body)
		require.NoError(t, err)
		assert.Equal(t, int64(1), m.UserID)
		assert.Equal(t, int64(102), m.ProductID)
		assert.Equal(t, 3, m.Quantity)
		assert.Equal(t, "abc-123", m.DedupKey)
	})

	t.Run("rejects invalid payloads", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"missing dedup key", `{"userId":1,"productId":102,"quantity":3}`},
			{"zero quantity", `{"userId":1,"productId":102,"quantity":0,"dedupKey":"k"}`},
			{"negative quantity", `{"userId":1,"productId":102,"quantity":-2,"dedupKey":"k"}`},
			{"missing user", `{"productId":102,"quantity":3,"dedupKey":"k"}`},
			{"missing product", `{"userId":1,"quantity":3,"dedupKey":"k"}`},
			{"empty object", `{}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Unmarshal([]byte(tt.body))
				assert.ErrorIs(t, err, ErrInvalidMessage)
			})
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := Unmarshal([]byte(`not json`))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidMessage)
	})
}

func TestOrderMessage_MarshalRoundtrip(t *testing.T) {
	msg := OrderMessage{UserID: 7, ProductID: 42, Quantity: 5, DedupKey: "key-1"}

	body, err := msg.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":7,"productId":42,"quantity":5,"dedupKey":"key-1"}`, string(body))

	got, err := Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}
