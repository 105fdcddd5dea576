package hub

import "sort"

// Registry 维护房间到成员连接的映射，以及连接到其所在房间的反向映射。
// 只由 Hub 的事件循环访问，不加锁。
type Registry struct {
	rooms   map[uint]map[*Client]struct{}
	clients map[*Client]map[uint]struct{}
}

// NewRegistry 创建空的 Registry
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[uint]map[*Client]struct{}),
		clients: make(map[*Client]map[uint]struct{}),
	}
}

// Join 把连接加入房间，返回是否是新加入（重复加入是幂等的）。
func (r *Registry) Join(c *Client, roomID uint) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[roomID] = members
	}
	if _, exists := members[c]; exists {
		return false
	}
	members[c] = struct{}{}

	joined, ok := r.clients[c]
	if !ok {
		joined = make(map[uint]struct{})
		r.clients[c] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// Leave 把连接移出房间，返回连接之前是否是成员。
func (r *Registry) Leave(c *Client, roomID uint) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[c]; !exists {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	if joined, ok := r.clients[c]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.clients, c)
		}
	}
	return true
}

// RemoveAll 把连接移出所有房间，返回它离开的房间（升序）。
func (r *Registry) RemoveAll(c *Client) []uint {
	joined := r.clients[c]
	left := make([]uint, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	for _, roomID := range left {
		r.Leave(c, roomID)
	}
	return left
}

// Contains 判断连接是否是房间成员
func (r *Registry) Contains(roomID uint, c *Client) bool {
	_, ok := r.rooms[roomID][c]
	return ok
}

// Members 返回房间的所有成员
func (r *Registry) Members(roomID uint) []*Client {
	return r.Others(roomID, nil)
}

// Others 返回房间中除 sender 之外的成员
func (r *Registry) Others(roomID uint, sender *Client) []*Client {
	members := r.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for c := range members {
		if c != sender {
			out = append(out, c)
		}
	}
	// 按连接创建顺序排列，保证输出稳定
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// RoomsOf 返回连接所在的房间（升序）
func (r *Registry) RoomsOf(c *Client) []uint {
	joined := r.clients[c]
	out := make([]uint, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoomIDs 返回所有有成员的房间（升序）
func (r *Registry) RoomIDs() []uint {
	out := make([]uint, 0, len(r.rooms))
	for roomID := range r.rooms {
		out = append(out, roomID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size 返回房间成员数
func (r *Registry) Size(roomID uint) int { return len(r.rooms[roomID]) }
