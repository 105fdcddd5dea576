package hub

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
)

func newBareClient(id uint) *Client {
	return NewClient(nil, nil, domain.Identity{ID: id, DisplayName: "u", Role: domain.RoleStudent})
}

// 随机的 join/leave/disconnect 序列之后，房间成员恰好是加入过且之后没有离开或断开的连接
func TestRegistry_MembershipMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	reg := NewRegistry()
	clients := make([]*Client, 6)
	for i := range clients {
		clients[i] = newBareClient(uint(i + 1))
	}
	model := map[uint]map[*Client]bool{}

	for step := 0; step < 2000; step++ {
		c := clients[rng.Intn(len(clients))]
		roomID := uint(rng.Intn(4) + 1)
		switch rng.Intn(3) {
		case 0:
			added := reg.Join(c, roomID)
			assert.Equal(t, !model[roomID][c], added)
			if model[roomID] == nil {
				model[roomID] = map[*Client]bool{}
			}
			model[roomID][c] = true
		case 1:
			removed := reg.Leave(c, roomID)
			assert.Equal(t, model[roomID][c], removed)
			delete(model[roomID], c)
		case 2:
			var expected []uint
			for id, members := range model {
				if members[c] {
					expected = append(expected, id)
					delete(members, c)
				}
			}
			sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })
			left := reg.RemoveAll(c)
			if len(expected) == 0 {
				assert.Empty(t, left)
			} else {
				assert.Equal(t, expected, left)
			}
		}

		for id := uint(1); id <= 4; id++ {
			require.Equal(t, len(model[id]), reg.Size(id), "room %d size at step %d", id, step)
			for _, m := range reg.Members(id) {
				require.True(t, model[id][m], "unexpected member in room %d at step %d", id, step)
			}
		}
	}
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	c := newBareClient(1)

	assert.True(t, reg.Join(c, 7))
	assert.False(t, reg.Join(c, 7))
	assert.Len(t, reg.Members(7), 1)
	assert.Equal(t, []uint{7}, reg.RoomsOf(c))
}

func TestRegistry_OthersExcludesSender(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newBareClient(1), newBareClient(2), newBareClient(3)
	for _, cl := range []*Client{a, b, c} {
		reg.Join(cl, 1)
	}

	others := reg.Others(1, b)
	assert.Equal(t, []*Client{a, c}, others)
	assert.NotContains(t, others, b)
}

func TestRegistry_EmptyRoomIsForgotten(t *testing.T) {
	reg := NewRegistry()
	c := newBareClient(1)
	reg.Join(c, 3)
	reg.Join(c, 5)

	assert.True(t, reg.Leave(c, 3))
	assert.Equal(t, []uint{5}, reg.RoomIDs())
	assert.Equal(t, []uint{5}, reg.RemoveAll(c))
	assert.Empty(t, reg.RoomIDs())
	assert.False(t, reg.Contains(5, c))
}
