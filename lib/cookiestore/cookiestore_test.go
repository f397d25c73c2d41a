package cookiestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNaiveParser(t *testing.T) {
	cases := []struct {
		name   string
		header string
		expect []Cookie
	}{
		{
			name:   "single pair",
			header: "SID=abc123",
			expect: []Cookie{{Name: "SID", Value: "abc123"}},
		},
		{
			name:   "attributes stripped",
			header: "SID=abc123; Path=/; HttpOnly",
			expect: []Cookie{{Name: "SID", Value: "abc123"}},
		},
		{
			name:   "joined headers",
			header: "SID=abc123; Path=/, lang=nl; Secure",
			expect: []Cookie{
				{Name: "SID", Value: "abc123"},
				{Name: "lang", Value: "nl"},
			},
		},
		{
			name:   "whitespace trimmed",
			header: "  SID = abc123 ",
			expect: []Cookie{{Name: "SID", Value: "abc123"}},
		},
		{
			name:   "missing equals skipped",
			header: "garbage, SID=abc123",
			expect: []Cookie{{Name: "SID", Value: "abc123"}},
		},
		{
			name:   "empty name or value skipped",
			header: "=orphan, empty=, SID=abc123",
			expect: []Cookie{{Name: "SID", Value: "abc123"}},
		},
		{
			// the comma inside the Expires date splits the header,
			// the date tail carries no "=" so it is dropped
			name:   "comma in expires attribute",
			header: "SID=abc123; Expires=Wed, 21 Oct 2026 07:28:00 GMT",
			expect: []Cookie{{Name: "SID", Value: "abc123"}},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expect, NaiveParser{}.Parse(test.header))
		})
	}
}

func TestStoreMerge(t *testing.T) {
	store := New()
	store.Merge(NaiveParser{}, "SID=first, lang=nl")
	require.Equal(t, "first", store.Get("SID"))
	require.Equal(t, "nl", store.Get("lang"))

	// later header wins for SID, lang is preserved untouched
	store.Merge(NaiveParser{}, "SID=second")
	require.Equal(t, "second", store.Get("SID"))
	require.Equal(t, "nl", store.Get("lang"))
	require.Equal(t, 2, store.Len())
}

func TestStoreMergeSkipsMalformed(t *testing.T) {
	store := New()
	store.Merge(NaiveParser{}, "SID=keepme")

	store.Merge(NaiveParser{}, "broken, =x, y=")
	require.Equal(t, "keepme", store.Get("SID"))
	require.Equal(t, 1, store.Len())
}

func TestStoreMergeEmptyHeader(t *testing.T) {
	store := New()
	store.Merge(NaiveParser{}, "SID=abc123")
	store.Merge(NaiveParser{}, "")
	require.Equal(t, "abc123", store.Get("SID"))
	require.Equal(t, 1, store.Len())
}

func TestStoreRenderOrder(t *testing.T) {
	store := New()
	store.Set("z", "1")
	store.Set("a", "2")
	store.Set("m", "3")
	require.Equal(t, "z=1; a=2; m=3", store.Render())

	// updating a value keeps the original position
	store.Set("a", "9")
	require.Equal(t, "z=1; a=9; m=3", store.Render())
}

func TestStoreGetAbsent(t *testing.T) {
	require.Equal(t, "", New().Get("SID"))
}
