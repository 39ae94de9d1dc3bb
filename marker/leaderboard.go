package marker

import (
	"fmt"

	"github.com/tolelom/gpsrunner/core"
)

type slot struct {
	id    string
	count uint64
}

// updateLeaderboard returns board after playerID's city count rose to count.
// countOf looks up the current count of other occupants. A single scan finds
// the player's old slot and the first occupant with a strictly lower count;
// the player is then moved there, so equal counts keep their existing order.
func updateLeaderboard(board []string, playerID string, count uint64, countOf func(string) (uint64, error)) ([]string, error) {
	slots := make([]slot, len(board), len(board)+1)
	cur, ins := -1, -1
	for i, id := range board {
		n := count - 1
		if id == playerID {
			cur = i
		} else {
			var err error
			if n, err = countOf(id); err != nil {
				return nil, err
			}
		}
		slots[i] = slot{id: id, count: n}
		if ins < 0 && n < count {
			ins = i
		}
	}
	if ins < 0 {
		ins = len(slots)
	}

	if cur >= 0 {
		slots = append(slots[:cur], slots[cur+1:]...)
		if cur < ins {
			ins--
		}
	}
	if ins < core.LeaderboardSize {
		if len(slots) < core.LeaderboardSize {
			slots = append(slots, slot{})
		}
		copy(slots[ins+1:], slots[ins:len(slots)-1])
		slots[ins] = slot{id: playerID, count: count}
	}

	checkLeaderboard(slots)
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.id
	}
	return out, nil
}

// checkLeaderboard panics unless slots are non-increasing by count, hold no
// duplicate or zero-count entry and fit the capacity.
func checkLeaderboard(slots []slot) {
	if len(slots) > core.LeaderboardSize {
		panic(fmt.Sprintf("marker: leaderboard holds %d entries", len(slots)))
	}
	seen := make(map[string]struct{}, len(slots))
	for i, s := range slots {
		if s.count == 0 {
			panic(fmt.Sprintf("marker: leaderboard entry %s has no markers", s.id))
		}
		if _, dup := seen[s.id]; dup {
			panic(fmt.Sprintf("marker: leaderboard lists %s twice", s.id))
		}
		seen[s.id] = struct{}{}
		if i > 0 && slots[i-1].count < s.count {
			panic(fmt.Sprintf("marker: leaderboard out of order at rank %d", i+1))
		}
	}
}
