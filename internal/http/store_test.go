package httpx

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
)

// memoryStore implements every repository interface for router tests.
type memoryStore struct {
	mu          sync.Mutex
	users       map[int64]domain.User
	nextUser    int64
	friendships map[[2]int64]bool
	requests    map[int64]domain.FriendRequest
	nextRequest int64
	groups      map[int64]domain.Group
	members     map[int64]map[int64]domain.GroupMember
	nextGroup   int64
	invites     map[string]domain.Invite
	expenses    []domain.Expense
	nextExpense int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:       make(map[int64]domain.User),
		friendships: make(map[[2]int64]bool),
		requests:    make(map[int64]domain.FriendRequest),
		groups:      make(map[int64]domain.Group),
		members:     make(map[int64]map[int64]domain.GroupMember),
		invites:     make(map[string]domain.Invite),
	}
}

func (m *memoryStore) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return &repository.ConflictError{Field: repository.FieldEmail, Constraint: "users_email_key"}
		}
		if existing.UniqueID == user.UniqueID {
			return &repository.ConflictError{Field: repository.FieldUniqueID, Constraint: "users_unique_id_key"}
		}
	}
	m.nextUser++
	user.ID = m.nextUser
	m.users[user.ID] = *user
	return nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *memoryStore) GetUserByUniqueID(_ context.Context, uniqueID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.UniqueID == uniqueID {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) UpdateAvatarURL(_ context.Context, userID int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.AvatarURL = &url
	m.users[userID] = u
	return nil
}

func pairKey(a, b int64) [2]int64 {
	f := domain.NewFriendship(a, b, time.Time{})
	return [2]int64{f.UserID, f.FriendID}
}

func (m *memoryStore) CreateFriendship(_ context.Context, f domain.Friendship) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey(f.UserID, f.FriendID)
	if m.friendships[k] {
		return false, nil
	}
	m.friendships[k] = true
	return true, nil
}

func (m *memoryStore) DeleteFriendship(_ context.Context, a, b int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey(a, b)
	if !m.friendships[k] {
		return false, nil
	}
	delete(m.friendships, k)
	return true, nil
}

func (m *memoryStore) AreFriends(_ context.Context, a, b int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.friendships[pairKey(a, b)], nil
}

func (m *memoryStore) ListFriends(_ context.Context, userID int64) ([]domain.PublicUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PublicUser
	for k := range m.friendships {
		other := int64(0)
		switch userID {
		case k[0]:
			other = k[1]
		case k[1]:
			other = k[0]
		default:
			continue
		}
		out = append(out, m.users[other].Public())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) CreateFriendRequest(_ context.Context, req *domain.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRequest++
	req.ID = m.nextRequest
	m.requests[req.ID] = *req
	return nil
}

func (m *memoryStore) GetFriendRequest(_ context.Context, id int64) (*domain.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &req, nil
}

func (m *memoryStore) HasPendingRequest(_ context.Context, a, b int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.Status == domain.FriendRequestPending && pairKey(req.FromUserID, req.ToUserID) == pairKey(a, b) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) ListIncomingRequests(_ context.Context, userID int64) ([]domain.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FriendRequest
	for _, req := range m.requests {
		if req.ToUserID == userID && req.Status == domain.FriendRequestPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) RespondFriendRequest(_ context.Context, id int64, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != domain.FriendRequestPending {
		return repository.ErrNotFound
	}
	req.Status = status
	req.RespondedAt = &at
	m.requests[id] = req
	return nil
}

func (m *memoryStore) CreateGroup(_ context.Context, g *domain.Group, owner *domain.GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGroup++
	g.ID = m.nextGroup
	m.groups[g.ID] = *g
	owner.GroupID = g.ID
	m.members[g.ID] = map[int64]domain.GroupMember{owner.UserID: *owner}
	return nil
}

func (m *memoryStore) GetGroupByID(_ context.Context, id int64) (*domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &g, nil
}

func (m *memoryStore) ListGroupsByUser(_ context.Context, userID int64) ([]domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Group
	for id, members := range m.members {
		if _, ok := members[userID]; ok {
			out = append(out, m.groups[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) AddMember(_ context.Context, member *domain.GroupMember) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[member.GroupID] == nil {
		m.members[member.GroupID] = make(map[int64]domain.GroupMember)
	}
	if _, ok := m.members[member.GroupID][member.UserID]; ok {
		return false, nil
	}
	m.members[member.GroupID][member.UserID] = *member
	return true, nil
}

func (m *memoryStore) RemoveMember(_ context.Context, groupID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[groupID][userID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.members[groupID], userID)
	return nil
}

func (m *memoryStore) GetMember(_ context.Context, groupID, userID int64) (*domain.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[groupID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &member, nil
}

func (m *memoryStore) ListMembers(_ context.Context, groupID int64) ([]domain.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GroupMember
	for _, member := range m.members[groupID] {
		member.User = m.users[member.UserID].Public()
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memoryStore) CreateInvite(_ context.Context, inv *domain.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.Token] = *inv
	return nil
}

func (m *memoryStore) GetInvite(_ context.Context, token string) (*domain.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inv, nil
}

func (m *memoryStore) DeleteExpiredInvites(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for token, inv := range m.invites {
		if inv.Expired(now) {
			delete(m.invites, token)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryStore) CreateExpense(_ context.Context, e *domain.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextExpense++
	e.ID = m.nextExpense
	m.expenses = append(m.expenses, *e)
	return nil
}

func (m *memoryStore) ListExpensesByGroup(_ context.Context, groupID int64, limit int) ([]domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Expense
	for i := len(m.expenses) - 1; i >= 0; i-- {
		if m.expenses[i].GroupID != groupID {
			continue
		}
		out = append(out, m.expenses[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ repository.UserRepository    = (*memoryStore)(nil)
	_ repository.FriendRepository  = (*memoryStore)(nil)
	_ repository.GroupRepository   = (*memoryStore)(nil)
	_ repository.InviteRepository  = (*memoryStore)(nil)
	_ repository.ExpenseRepository = (*memoryStore)(nil)
)
