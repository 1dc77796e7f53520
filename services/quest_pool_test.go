package services

import (
	"errors"
	"testing"

	"otakumori-rewards/models"
)

func TestDefaultQuestPool_IsValid(t *testing.T) {
	pool := DefaultQuestPool()
	if pool.Len() < 6 {
		t.Fatalf("expected at least 6 quests, got %d", pool.Len())
	}
	for _, d := range pool.Definitions() {
		got, ok := pool.Lookup(d.Key)
		if !ok || got != d {
			t.Fatalf("lookup %q: got %+v ok=%t", d.Key, got, ok)
		}
	}
}

func TestQuestPool_DefinitionsIsACopy(t *testing.T) {
	pool := DefaultQuestPool()
	defs := pool.Definitions()
	defs[0].Title = "mutated"
	if pool.At(0).Title == "mutated" {
		t.Fatal("expected catalog to be immutable through Definitions")
	}
}

func TestNewQuestPool_Rejects(t *testing.T) {
	valid := QuestDefinition{Key: "ok", Title: "Ok", Kind: models.QuestKindBrowse, Target: 1}
	tests := []struct {
		name string
		defs []QuestDefinition
	}{
		{name: "empty key", defs: []QuestDefinition{{Kind: models.QuestKindBrowse, Target: 1}}},
		{name: "non slug key", defs: []QuestDefinition{{Key: "Bad Key", Kind: models.QuestKindBrowse, Target: 1}}},
		{name: "duplicate", defs: []QuestDefinition{valid, valid}},
		{name: "unknown kind", defs: []QuestDefinition{{Key: "x", Kind: "gacha", Target: 1}}},
		{name: "zero target", defs: []QuestDefinition{{Key: "x", Kind: models.QuestKindReview}}},
		{name: "negative reward", defs: []QuestDefinition{{Key: "x", Kind: models.QuestKindReview, Target: 1, BasePetals: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewQuestPool(tt.defs); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestKindLabel(t *testing.T) {
	if got := KindLabel(models.QuestKindMinigame); got != "Minigame" {
		t.Fatalf("expected Minigame, got %q", got)
	}
}
