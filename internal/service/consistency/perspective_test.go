package consistency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustPerspective_English(t *testing.T) {
	tests := []struct {
		name string
		text string
		role string
		want string
	}{
		{
			name: "first person with reflexive",
			text: "I went to the store myself",
			role: "user",
			want: "User went to the store User himself",
		},
		{
			name: "object pronoun",
			text: "She told me a secret",
			role: "user",
			want: "She told User a secret",
		},
		{
			name: "assistant role",
			text: "I suggested a restaurant",
			role: "assistant",
			want: "Assistant suggested a restaurant",
		},
		{
			name: "pronoun inside word untouched",
			text: "The Iliad is famous",
			role: "user",
			want: "The Iliad is famous",
		},
		{
			name: "no first person",
			text: "Caroline joined the support group",
			role: "user",
			want: "Caroline joined the support group",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdjustPerspective(tt.text, tt.role, "en"))
		})
	}
}

func TestAdjustPerspective_Chinese(t *testing.T) {
	assert.Equal(t, "用户喜欢苹果", AdjustPerspective("我喜欢苹果", "user", "zh"))
	assert.Equal(t, "用户自己去了商店", AdjustPerspective("我自己去了商店", "user", "zh"))
	assert.Equal(t, "助手推荐了一家餐厅", AdjustPerspective("我推荐了一家餐厅", "assistant", "zh"))
}

func TestAdjustPerspective_Idempotent(t *testing.T) {
	inputs := []struct {
		text, role, lang string
	}{
		{"I went to the store myself", "user", "en"},
		{"She told me a secret", "user", "en"},
		{"我自己去了商店", "user", "zh"},
	}

	for _, in := range inputs {
		once := AdjustPerspective(in.text, in.role, in.lang)
		twice := AdjustPerspective(once, in.role, in.lang)
		assert.Equal(t, once, twice, "adjust(adjust(%q)) must equal adjust(%q)", in.text, in.text)
	}
}

func TestAdjustPerspective_UnknownLanguagePassesThrough(t *testing.T) {
	text := "Je suis allé au magasin"
	assert.Equal(t, text, AdjustPerspective(text, "user", "fr"))
}
