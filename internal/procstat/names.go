package procstat

import (
	"os/user"
	"strconv"
	"sync"
)

// nameCache resolves numeric user and group ids to names.
// Failed lookups are cached as empty names.
type nameCache struct {
	mu     sync.Mutex
	users  map[int]string
	groups map[int]string

	lookupUser  func(uid string) (string, error)
	lookupGroup func(gid string) (string, error)
}

var names = newNameCache()

func newNameCache() *nameCache {
	return &nameCache{
		users:  make(map[int]string),
		groups: make(map[int]string),
		lookupUser: func(uid string) (string, error) {
			u, err := user.LookupId(uid)
			if err != nil {
				return "", err
			}
			return u.Username, nil
		},
		lookupGroup: func(gid string) (string, error) {
			g, err := user.LookupGroupId(gid)
			if err != nil {
				return "", err
			}
			return g.Name, nil
		},
	}
}

func (c *nameCache) user(uid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.users[uid]; ok {
		return name
	}
	name, err := c.lookupUser(strconv.Itoa(uid))
	if err != nil {
		name = ""
	}
	c.users[uid] = name
	return name
}

func (c *nameCache) group(gid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.groups[gid]; ok {
		return name
	}
	name, err := c.lookupGroup(strconv.Itoa(gid))
	if err != nil {
		name = ""
	}
	c.groups[gid] = name
	return name
}
