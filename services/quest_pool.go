package services

import (
	"fmt"

	"otakumori-rewards/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// QuestDefinition is one static catalog entry. Immutable at runtime.
type QuestDefinition struct {
	Key         string           `json:"key"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Kind        models.QuestKind `json:"kind"`
	Target      int              `json:"target"`
	BasePetals  int              `json:"base_petals"`
	BonusPetals int              `json:"bonus_petals"`
}

// defaultQuests is the catalog shipped with the service; changes need a redeploy.
var defaultQuests = []QuestDefinition{
	{Key: "browse-products", Title: "Window Shopper", Description: "View 3 products in the shop", Kind: models.QuestKindBrowse, Target: 3, BasePetals: 10, BonusPetals: 5},
	{Key: "browse-collections", Title: "Curator", Description: "Open 2 different collections", Kind: models.QuestKindBrowse, Target: 2, BasePetals: 8, BonusPetals: 4},
	{Key: "write-review", Title: "Critic's Corner", Description: "Leave a review on something you own", Kind: models.QuestKindReview, Target: 1, BasePetals: 25, BonusPetals: 10},
	{Key: "rate-products", Title: "Quick Verdicts", Description: "Rate 3 products", Kind: models.QuestKindReview, Target: 3, BasePetals: 12, BonusPetals: 6},
	{Key: "petal-collector", Title: "Petal Collector", Description: "Catch 50 petals in the petal storm", Kind: models.QuestKindMinigame, Target: 50, BasePetals: 15, BonusPetals: 10},
	{Key: "play-minigames", Title: "Arcade Regular", Description: "Finish 2 mini-game rounds", Kind: models.QuestKindMinigame, Target: 2, BasePetals: 20, BonusPetals: 10},
	{Key: "memory-match", Title: "Total Recall", Description: "Clear a memory match board", Kind: models.QuestKindMinigame, Target: 1, BasePetals: 18, BonusPetals: 8},
	{Key: "first-purchase-of-day", Title: "Treat Yourself", Description: "Complete a purchase", Kind: models.QuestKindPurchase, Target: 1, BasePetals: 40, BonusPetals: 20},
}

// QuestPool is an immutable, validated catalog.
type QuestPool struct {
	defs  []QuestDefinition
	byKey map[string]int
}

// NewQuestPool validates defs and indexes them by key.
func NewQuestPool(defs []QuestDefinition) (*QuestPool, error) {
	p := &QuestPool{
		defs:  make([]QuestDefinition, len(defs)),
		byKey: make(map[string]int, len(defs)),
	}
	copy(p.defs, defs)
	for i, d := range p.defs {
		if d.Key == "" || !slug.IsSlug(d.Key) {
			return nil, fmt.Errorf("%w: quest key %q is not a slug", ErrValidation, d.Key)
		}
		if _, dup := p.byKey[d.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate quest key %q", ErrValidation, d.Key)
		}
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("%w: quest %q has unknown kind %q", ErrValidation, d.Key, d.Kind)
		}
		if d.Target < 1 {
			return nil, fmt.Errorf("%w: quest %q target must be at least 1", ErrValidation, d.Key)
		}
		if d.BasePetals < 0 || d.BonusPetals < 0 {
			return nil, fmt.Errorf("%w: quest %q rewards must not be negative", ErrValidation, d.Key)
		}
		p.byKey[d.Key] = i
	}
	return p, nil
}

// DefaultQuestPool returns the built-in catalog. It panics on an invalid
// catalog since that is a programming error caught at startup.
func DefaultQuestPool() *QuestPool {
	p, err := NewQuestPool(defaultQuests)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of definitions.
func (p *QuestPool) Len() int { return len(p.defs) }

// At returns the definition at index i.
func (p *QuestPool) At(i int) QuestDefinition { return p.defs[i] }

// Definitions returns a copy of the catalog in declaration order.
func (p *QuestPool) Definitions() []QuestDefinition {
	out := make([]QuestDefinition, len(p.defs))
	copy(out, p.defs)
	return out
}

// Lookup finds a definition by key.
func (p *QuestPool) Lookup(key string) (QuestDefinition, bool) {
	i, ok := p.byKey[key]
	if !ok {
		return QuestDefinition{}, false
	}
	return p.defs[i], true
}

// KindLabel renders a kind for display, e.g. "minigame" -> "Minigame".
// Casers are stateful, so each call gets its own.
func KindLabel(k models.QuestKind) string {
	return cases.Title(language.English).String(string(k))
}
