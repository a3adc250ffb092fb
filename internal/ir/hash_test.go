package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarshalCanonical_SortedKeys tests RFC 8785 key ordering.
func TestMarshalCanonical_SortedKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"zebra": 1, "alpha": "a", "beta": []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","beta":["x"],"zebra":1}`, string(out))
}

// TestMarshalCanonical_NoHTMLEscape tests that <, > and & are kept literal.
func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

// TestMarshalCanonical_LineSeparators tests U+2028 stays literal and escaped backslashes survive.
func TestMarshalCanonical_LineSeparators(t *testing.T) {
	out, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	out, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

// TestMarshalCanonical_Rejects tests that floats and null are refused.
func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"a": nil})
	assert.Error(t, err)
}

// TestEntryID_Stable tests that ids depend only on content.
func TestEntryID_Stable(t *testing.T) {
	a, err := EntryID("note", map[string]any{"text": "hello", "stream": "api"})
	require.NoError(t, err)
	b, err := EntryID("note", map[string]any{"stream": "api", "text": "hello"})
	require.NoError(t, err)
	c, err := EntryID("note", map[string]any{"stream": "api", "text": "bye"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

// TestStreamFingerprint_IgnoresVer tests that Ver and IsSyncing do not affect the fingerprint.
func TestStreamFingerprint_IgnoresVer(t *testing.T) {
	s := NewStreamState(Ref{ProjectID: "p", TargetID: "t", StreamID: "s"})
	s.Version = "1.0.0"
	s.History.Change = append(s.History.Change, HistoryEntry{ID: "abc", Type: "commit"})

	f1, err := StreamFingerprint(s)
	require.NoError(t, err)

	s.Ver = 42
	s.IsSyncing = true
	f2, err := StreamFingerprint(s)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)

	s.Version = "1.0.1"
	f3, err := StreamFingerprint(s)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f3)
}
