package slackbot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

const userCacheTTL = 5 * time.Minute

// userDirectory resolves contacts given as Slack IDs or names against a
// cached users.list result.
type userDirectory struct {
	api *slack.Client
	now func() time.Time

	mu        sync.Mutex
	users     []slack.User
	fetchedAt time.Time
}

func (d *userDirectory) cachedUsers(ctx context.Context) ([]slack.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.users != nil && d.now().Sub(d.fetchedAt) < userCacheTTL {
		return d.users, nil
	}

	users, err := d.api.GetUsersContext(ctx)
	if err != nil {
		return nil, err
	}
	d.users = users
	d.fetchedAt = d.now()
	return users, nil
}

// resolve returns the user IDs for identifiers and the names it could not
// match. IDs are passed through without a lookup.
func (d *userDirectory) resolve(ctx context.Context, identifiers []string) ([]string, []string, error) {
	var ids []string
	var names []string

	for _, raw := range identifiers {
		val := strings.TrimPrefix(strings.TrimSpace(raw), "@")
		if val == "" {
			continue
		}
		if isLikelySlackID(val) {
			ids = append(ids, val)
		} else {
			names = append(names, val)
		}
	}

	if len(names) == 0 {
		return uniqueStrings(ids), nil, nil
	}

	users, err := d.cachedUsers(ctx)
	if err != nil {
		return uniqueStrings(ids), names, err
	}

	nameToID := make(map[string]string)
	for _, user := range users {
		if user.Deleted || user.IsBot {
			continue
		}
		addName := func(n string) {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "" {
				return
			}
			if _, exists := nameToID[n]; !exists {
				nameToID[n] = user.ID
			}
		}
		addName(user.Name)
		addName(user.RealName)
		addName(user.Profile.DisplayName)
	}

	var unresolved []string
	for _, name := range names {
		if id, ok := nameToID[strings.ToLower(name)]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, name)
		}
	}
	return uniqueStrings(ids), unresolved, nil
}

func isLikelySlackID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'U' && r != 'W' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func mentions(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, "<@"+id+">")
	}
	return strings.Join(parts, " ")
}
