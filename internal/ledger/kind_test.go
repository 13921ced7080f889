package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("face_swap")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKind_JSON(t *testing.T) {
	var payload struct {
		Kind Kind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"live_detection"}`), &payload))
	assert.Equal(t, KindLiveDetection, payload.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"bogus"}`), &payload))

	_, err := json.Marshal(struct{ K Kind }{K: Kind(42)})
	assert.Error(t, err)
}

func TestNewCostTable(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		table := DefaultCostTable()
		assert.Equal(t, map[string]int{
			"sentiment_analysis": 2,
			"live_detection":     2,
			"pdf_analysis":       2,
		}, table.Map())
	})

	t.Run("missing kind", func(t *testing.T) {
		_, err := NewCostTable(map[Kind]int{KindSentimentAnalysis: 2})
		assert.Error(t, err)
	})

	t.Run("non-positive cost", func(t *testing.T) {
		_, err := NewCostTable(map[Kind]int{
			KindSentimentAnalysis: 2,
			KindLiveDetection:     0,
			KindPDFAnalysis:       2,
		})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewCostTable(map[Kind]int{
			KindSentimentAnalysis: 2,
			KindLiveDetection:     2,
			KindPDFAnalysis:       2,
			Kind(7):               2,
		})
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(DefaultCostTable())
		require.NoError(t, err)
		assert.JSONEq(t, `{"sentiment_analysis":2,"live_detection":2,"pdf_analysis":2}`, string(data))
	})
}

func TestSecretKey(t *testing.T) {
	k1, err := NewSecretKey()
	require.NoError(t, err)
	k2, err := NewSecretKey()
	require.NoError(t, err)

	assert.True(t, LooksLikeSecretKey(k1))
	assert.NotEqual(t, k1, k2)
	assert.False(t, LooksLikeSecretKey("sa_live_short"))
	assert.False(t, LooksLikeSecretKey("eyJhbGciOiJIUzI1NiJ9.payload.sig"))
}
