package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talkincode/wabot/internal/domain"
)

func TestNormalizeTrigger(t *testing.T) {
	assert.Equal(t, "hello", NormalizeTrigger("  HeLLo "))
	assert.Equal(t, "good morning", NormalizeTrigger("Good \t Morning"))
	assert.Equal(t, "strasse", NormalizeTrigger("STRASSE"))
	// composed and decomposed forms match
	assert.Equal(t, NormalizeTrigger("caf\u00e9"), NormalizeTrigger("cafe\u0301"))
	assert.Equal(t, "", NormalizeTrigger("   "))
}

func TestNormalizeReplies(t *testing.T) {
	got := NormalizeReplies(map[string]string{
		"Hello": "Hi!",
		" ":     "dropped",
		"PRICE": "It is free.",
	})
	assert.Equal(t, map[string]string{"hello": "Hi!", "price": "It is free."}, got)
}

func TestRepliesFromList(t *testing.T) {
	got := RepliesFromList([]domain.AutoReply{
		{Trigger: "Hello", Response: "Hi!", IsActive: true},
		{Trigger: "bye", Response: "See you", IsActive: false},
		{Trigger: "", Response: "nothing", IsActive: true},
	})
	assert.Equal(t, map[string]string{"hello": "Hi!"}, got)
}

func TestInstanceReply(t *testing.T) {
	inst := newInstance(&domain.Bot{ID: 1, AutoReplies: map[string]string{"Hello": "Hi!", "empty": ""}})
	r, ok := inst.reply("HELLO")
	assert.True(t, ok)
	assert.Equal(t, "Hi!", r)
	_, ok = inst.reply("empty")
	assert.False(t, ok)
	_, ok = inst.reply("")
	assert.False(t, ok)
}
