package services

import (
	"hash/fnv"
	"math/rand"
)

// dailySeed hashes "userID:day" with 64-bit FNV-1a.
func dailySeed(userID, day string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(userID))
	_, _ = hasher.Write([]byte{':'})
	_, _ = hasher.Write([]byte(day))
	return int64(hasher.Sum64())
}

// PickDaily returns min(picksPerDay, poolSize) distinct indices into a pool of
// poolSize quests, in draw order. The same (userID, day) always yields the
// same indices in the same order.
//
// The generator is math/rand's NewSource seeded by dailySeed. Swapping either
// changes every historical selection.
func PickDaily(userID, day string, poolSize, picksPerDay int) []int {
	if poolSize <= 0 || picksPerDay <= 0 {
		return nil
	}
	want := picksPerDay
	if want > poolSize {
		want = poolSize
	}

	rng := rand.New(rand.NewSource(dailySeed(userID, day)))
	picked := make(map[int]struct{}, want)
	out := make([]int, 0, want)
	for len(out) < want {
		idx := rng.Intn(poolSize)
		if _, seen := picked[idx]; seen {
			continue
		}
		picked[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}

// PickDailyKeys resolves PickDaily against a pool.
func PickDailyKeys(pool *QuestPool, userID, day string, picksPerDay int) []QuestDefinition {
	indices := PickDaily(userID, day, pool.Len(), picksPerDay)
	defs := make([]QuestDefinition, 0, len(indices))
	for _, i := range indices {
		defs = append(defs, pool.At(i))
	}
	return defs
}
