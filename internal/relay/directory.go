package relay

import (
	"sort"
	"sync"
)

type memberSet map[string]struct{}

// Directory maps room names to the ids of the connections joined to them.
// It keeps a reverse index so a closing connection can find its rooms.
type Directory struct {
	mu     sync.RWMutex
	rooms  map[string]memberSet
	byConn map[string]memberSet
}

// RoomInfo is a point-in-time view of one room.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		rooms:  make(map[string]memberSet),
		byConn: make(map[string]memberSet),
	}
}

// Join adds connID to room, creating the room if needed. It returns false
// when connID was already a member.
func (d *Directory) Join(room, connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[room]
	if !ok {
		members = make(memberSet)
		d.rooms[room] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	joined, ok := d.byConn[connID]
	if !ok {
		joined = make(memberSet)
		d.byConn[connID] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes connID from room and drops the room once it is empty. It
// returns false when connID was not a member.
func (d *Directory) Leave(room, connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, room)
	}

	if joined, ok := d.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(d.byConn, connID)
		}
	}
	return true
}

// MembersOf returns a copy of the room's membership. Unknown rooms yield an
// empty, non-nil slice.
func (d *Directory) MembersOf(room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMember reports whether connID is in room.
func (d *Directory) IsMember(room, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[room][connID]
	return ok
}

// RoomsOf returns the rooms connID currently belongs to, sorted.
func (d *Directory) RoomsOf(connID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	joined := d.byConn[connID]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Rooms lists every non-empty room with its member count.
func (d *Directory) Rooms() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(d.rooms))
	for name, members := range d.rooms {
		infos = append(infos, RoomInfo{Name: name, Members: len(members)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len returns the number of rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *Directory) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = make(map[string]memberSet)
	d.byConn = make(map[string]memberSet)
}
