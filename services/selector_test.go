package services

import (
	"fmt"
	"reflect"
	"testing"

	"otakumori-rewards/models"
)

func TestPickDaily_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		first := PickDaily(userID, "2025-01-15", 8, 3)
		second := PickDaily(userID, "2025-01-15", 8, 3)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("%s: expected identical picks, got %v and %v", userID, first, second)
		}
	}
}

func TestPickDaily_Counts(t *testing.T) {
	tests := []struct {
		name     string
		poolSize int
		picks    int
		want     int
	}{
		{name: "fewer picks than pool", poolSize: 6, picks: 3, want: 3},
		{name: "picks equal pool", poolSize: 6, picks: 6, want: 6},
		{name: "picks exceed pool", poolSize: 4, picks: 10, want: 4},
		{name: "single quest", poolSize: 1, picks: 3, want: 1},
		{name: "empty pool", poolSize: 0, picks: 3, want: 0},
		{name: "no picks", poolSize: 6, picks: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickDaily("u1", "2025-01-15", tt.poolSize, tt.picks)
			if len(got) != tt.want {
				t.Fatalf("expected %d picks, got %d (%v)", tt.want, len(got), got)
			}
			seen := map[int]bool{}
			for _, idx := range got {
				if idx < 0 || idx >= tt.poolSize {
					t.Fatalf("index %d out of range [0,%d)", idx, tt.poolSize)
				}
				if seen[idx] {
					t.Fatalf("duplicate index %d in %v", idx, got)
				}
				seen[idx] = true
			}
		})
	}
}

func TestPickDaily_SixQuestScenario(t *testing.T) {
	defs := make([]QuestDefinition, 6)
	for i := range defs {
		defs[i] = QuestDefinition{Key: fmt.Sprintf("quest-%d", i), Title: "Q", Kind: models.QuestKindBrowse, Target: 1}
	}
	pool, err := NewQuestPool(defs)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	// Pinned: a change here re-rolls every stored assignment.
	want := []string{"quest-4", "quest-3", "quest-5"}
	for i := 0; i < 10; i++ {
		got := PickDailyKeys(pool, "u1", "2025-01-15", 3)
		keys := make([]string, 0, len(got))
		for _, d := range got {
			keys = append(keys, d.Key)
		}
		if !reflect.DeepEqual(keys, want) {
			t.Fatalf("run %d: expected %v, got %v", i, want, keys)
		}
	}
}

func TestPickDaily_PinnedSelections(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		day      string
		poolSize int
		picks    int
		want     []int
	}{
		{name: "six quest pool", user: "u1", day: "2025-01-15", poolSize: 6, picks: 3, want: []int{4, 3, 5}},
		{name: "default pool", user: "u1", day: "2025-01-15", poolSize: 8, picks: 3, want: []int{0, 7, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickDaily(tt.user, tt.day, tt.poolSize, tt.picks); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	keys := make([]string, 0, 3)
	for _, d := range PickDailyKeys(DefaultQuestPool(), "u1", "2025-01-15", 3) {
		keys = append(keys, d.Key)
	}
	if want := []string{"browse-products", "first-purchase-of-day", "play-minigames"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func TestPickDaily_VariesAcrossDaysAndUsers(t *testing.T) {
	base := PickDaily("u1", "2025-01-15", 8, 3)
	differs := false
	for d := 16; d < 31; d++ {
		if !reflect.DeepEqual(base, PickDaily("u1", fmt.Sprintf("2025-01-%02d", d), 8, 3)) {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatal("expected selection to change across days")
	}
}
