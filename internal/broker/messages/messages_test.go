package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPositionReported_JSONShape(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	m := NewPositionReported("PK303", "R1", 0.8, 40.71, -74.0, 35000, 85, 450, 0, ts)
	require.Equal(t, []byte("PK303"), m.Key())

	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{
  "flight_id": "PK303",
  "receiver_id": "R1",
  "signal_strength": 0.8,
  "position": {"latitude": 40.71, "longitude": -74.0, "altitude": 35000, "heading": 85, "speed": 450, "vertical_rate": 0},
  "timestamp": "2024-01-15T10:30:00Z"
}`, string(b))
}

func TestPositionReported_MissingFieldsStayNil(t *testing.T) {
	var m PositionReported
	require.NoError(t, json.Unmarshal([]byte(`{"flight_id":"A","position":{"latitude":1}}`), &m))
	require.NotNil(t, m.FlightID)
	require.Nil(t, m.ReceiverID)
	require.NotNil(t, m.Position)
	require.Nil(t, m.Position.Longitude)
	require.Nil(t, m.Timestamp)
	require.Nil(t, PositionReported{}.Key())
}
