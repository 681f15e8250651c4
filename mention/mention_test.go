package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "none", text: "no mentions here", want: nil},
		{name: "single", text: "@researcher look into X.", want: []string{"researcher"}},
		{name: "case folded", text: "@Analyst please verify", want: []string{"analyst"}},
		{name: "text order", text: "@b first then @a", want: []string{"b", "a"}},
		{name: "duplicates collapse", text: "@a and @A and @a again", want: []string{"a"}},
		{name: "maximal run", text: "@web_search_2, ok", want: []string{"web_search_2"}},
		{name: "stops at hyphen", text: "@data-bot", want: []string{"data"}},
		{name: "bare at", text: "email me @ home", want: nil},
		{name: "stops at non-ascii", text: "@analystà please", want: []string{"analyst"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text))
		})
	}
}

func TestParseExcluding(t *testing.T) {
	got := ParseExcluding("@researcher asked @Analyst and @RESEARCHER", "Researcher")
	assert.Equal(t, []string{"analyst"}, got)

	assert.Empty(t, ParseExcluding("only @me", "me"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("ping @Analyst", "analyst"))
	assert.False(t, Contains("ping @analysts", "analyst"))
}
