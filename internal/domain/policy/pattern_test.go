package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		pattern string
		want    bool
	}{
		{"exact match", "repos:read", "repos:read", true},
		{"exact mismatch", "repos:read", "repos:write", false},
		{"universal wildcard", "anything", "*", true},
		{"universal wildcard empty value", "", "*", true},
		{"trailing glob", "repos:read", "repos:*", true},
		{"trailing glob mismatch", "issues:read", "repos:*", false},
		{"leading glob", "repos:read", "*:read", true},
		{"middle glob", "repos:admin:read", "repos:*:read", true},
		{"middle glob empty run", "repos::read", "repos:*:read", true},
		{"multiple globs", "a-b-c", "a*c", true},
		{"glob no match", "abc", "a*d", false},
		{"colon prefix", "repos:read", "repos:", true},
		{"colon prefix deep", "repos:admin:write", "repos:", true},
		{"colon prefix mismatch", "issues:read", "repos:", false},
		{"colon prefix exact colon value", "repos:", "repos:", true},
		{"empty pattern empty value", "", "", true},
		{"empty pattern nonempty value", "x", "", false},
		{"empty value exact", "", "repos:read", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.value, tc.pattern))
		})
	}
}

func TestMatchAny(t *testing.T) {
	assert.True(t, MatchAny("repos:read", []string{"issues:*", "repos:"}))
	assert.False(t, MatchAny("repos:read", []string{"issues:*", "gists:"}))
	assert.False(t, MatchAny("repos:read", nil))
}
