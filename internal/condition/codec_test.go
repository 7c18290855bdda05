package condition

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	tree := Missing().
		And(InProgress().Not()).
		And(Must(AnyDeps(ParentNewer()))).
		Or(Must(InLatestTimeWindow(2, 6*time.Hour)), Must(UpdatedSinceCron("0 9 * * *", "Europe/Berlin")))

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, tree.Equal(decoded))
	assert.Equal(t, tree.String(), decoded.String())

	var viaUnmarshal Condition
	require.NoError(t, json.Unmarshal(data, &viaUnmarshal))
	assert.True(t, tree.Equal(&viaUnmarshal))
}

func TestMarshalJSONShape(t *testing.T) {
	data, err := json.Marshal(Missing().And(Must(InLatestTimeWindow(2, 0))))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"kind": "and",
		"children": [
			{"kind": "missing"},
			{"kind": "in_latest_time_window", "params": {"n": 2}}
		]
	}`, string(data))
}

func TestDecodeIgnoresUnknownKeys(t *testing.T) {
	c, err := Decode([]byte(`{"kind":"not","label":"x","children":[{"kind":"in_progress","extra":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, "not(in_progress)", c.String())
}

func TestDecodeValidates(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown kind", `{"kind":"sometimes"}`},
		{"not with two children", `{"kind":"not","children":[{"kind":"missing"},{"kind":"missing"}]}`},
		{"empty and", `{"kind":"and"}`},
		{"bad lookback", `{"kind":"in_latest_time_window","params":{"lookback":"soon"}}`},
		{"nested bad child", `{"kind":"or","children":[{"kind":"all_deps"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedCondition))
		})
	}

	_, err := Decode([]byte(`{"kind":"updated_since_cron","params":{"cron":"nope"}}`))
	require.Error(t, err)

	_, err = Decode([]byte(`[`))
	require.Error(t, err)
}

func TestDecodeDefaultsWindowCount(t *testing.T) {
	c, err := Decode([]byte(`{"kind":"in_latest_time_window"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Windows())
}

func TestHash(t *testing.T) {
	a, err := Missing().And(InProgress().Not()).Hash()
	require.NoError(t, err)
	b, err := Missing().And(InProgress().Not()).Hash()
	require.NoError(t, err)
	c, err := InProgress().Not().And(Missing()).Hash()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "child order is part of the tree's identity")

	w1, err := Must(InLatestTimeWindow(1, 0)).Hash()
	require.NoError(t, err)
	w2, err := Must(InLatestTimeWindow(2, 0)).Hash()
	require.NoError(t, err)
	assert.NotEqual(t, w1, w2)
}
