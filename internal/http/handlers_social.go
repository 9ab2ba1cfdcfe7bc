package httpx

import (
	"net/http"
	"strings"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/service/expense"
	"github.com/splax/splitter/internal/service/invite"
)

// bodyString reads a string field from a JSON body.
func bodyString(req *http.Request, field string) (string, error) {
	body, err := readJSON(req)
	if err != nil {
		return "", err
	}
	value, _ := looseString(body, field)
	return strings.TrimSpace(value), nil
}

func (r *Router) handleRedeemInvite(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodPost {
		return errMethodNotAllowed
	}
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	data, err := bodyString(req, "data")
	if err != nil {
		return err
	}
	parsed, ok := invite.Parse(data)
	if !ok {
		return errorf(http.StatusBadRequest, "Unrecognized invite code")
	}
	switch parsed.Kind {
	case domain.InviteKindFriend:
		res, err := r.friends.JoinByToken(req.Context(), userID, parsed.Token)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"kind": parsed.Kind, "action": res.Action, "user": res.User})
	case domain.InviteKindGroup:
		res, err := r.groups.JoinByToken(req.Context(), userID, parsed.Token)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"kind": parsed.Kind, "member": res.Member, "group": res.Group, "owner": res.Owner})
	default:
		return errorf(http.StatusBadRequest, "Unrecognized invite code")
	}
	return nil
}

func (r *Router) handleFriends(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodGet {
		return errMethodNotAllowed
	}
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	friends, err := r.friends.List(req.Context(), userID)
	if err != nil {
		return err
	}
	if friends == nil {
		friends = []domain.PublicUser{}
	}
	writeJSON(w, http.StatusOK, friends)
	return nil
}

func (r *Router) handleFriendSubroutes(w http.ResponseWriter, req *http.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	parts := splitPath(req.URL.Path, "/friends/")
	switch {
	case len(parts) == 1 && parts[0] == "invite":
		if req.Method != http.MethodPost {
			return errMethodNotAllowed
		}
		issued, err := r.friends.CreateInvite(req.Context(), userID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, issued)
		return nil
	case len(parts) == 1 && parts[0] == "join":
		if req.Method != http.MethodPost {
			return errMethodNotAllowed
		}
		token, err := bodyString(req, "token")
		if err != nil {
			return err
		}
		res, err := r.friends.JoinByToken(req.Context(), userID, token)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, res)
		return nil
	case len(parts) >= 1 && parts[0] == "requests":
		return r.handleFriendRequests(w, req, userID, parts[1:])
	case len(parts) == 1:
		friendID, ok := pathID(parts[0])
		if !ok {
			return errNotFound
		}
		if req.Method != http.MethodDelete {
			return errMethodNotAllowed
		}
		if err := r.friends.Remove(req.Context(), userID, friendID); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
		return nil
	}
	return errNotFound
}

func (r *Router) handleFriendRequests(w http.ResponseWriter, req *http.Request, userID int64, parts []string) error {
	switch len(parts) {
	case 0:
		switch req.Method {
		case http.MethodGet:
			requests, err := r.friends.IncomingRequests(req.Context(), userID)
			if err != nil {
				return err
			}
			if requests == nil {
				requests = []domain.FriendRequest{}
			}
			writeJSON(w, http.StatusOK, requests)
			return nil
		case http.MethodPost:
			uniqueID, err := bodyString(req, "uniqueId")
			if err != nil {
				return err
			}
			if uniqueID == "" {
				return errorf(http.StatusBadRequest, "uniqueId is required")
			}
			created, err := r.friends.SendRequest(req.Context(), userID, uniqueID)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusCreated, created)
			return nil
		default:
			return errMethodNotAllowed
		}
	case 2:
		requestID, ok := pathID(parts[0])
		if !ok || (parts[1] != "accept" && parts[1] != "decline") {
			return errNotFound
		}
		if req.Method != http.MethodPost {
			return errMethodNotAllowed
		}
		answered, err := r.friends.Respond(req.Context(), userID, requestID, parts[1] == "accept")
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, answered)
		return nil
	}
	return errNotFound
}

func (r *Router) handleGroups(w http.ResponseWriter, req *http.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	switch req.Method {
	case http.MethodGet:
		groups, err := r.groups.ListForUser(req.Context(), userID)
		if err != nil {
			return err
		}
		if groups == nil {
			groups = []domain.Group{}
		}
		writeJSON(w, http.StatusOK, groups)
		return nil
	case http.MethodPost:
		name, err := bodyString(req, "name")
		if err != nil {
			return err
		}
		created, err := r.groups.Create(req.Context(), userID, name)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, created)
		return nil
	default:
		return errMethodNotAllowed
	}
}

func (r *Router) handleGroupSubroutes(w http.ResponseWriter, req *http.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	parts := splitPath(req.URL.Path, "/groups/")
	if len(parts) == 1 && parts[0] == "join" {
		if req.Method != http.MethodPost {
			return errMethodNotAllowed
		}
		token, err := bodyString(req, "token")
		if err != nil {
			return err
		}
		res, err := r.groups.JoinByToken(req.Context(), userID, token)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, res)
		return nil
	}
	if len(parts) == 0 {
		return errNotFound
	}
	groupID, ok := pathID(parts[0])
	if !ok {
		return errNotFound
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	} else if len(parts) > 2 {
		return errNotFound
	}

	switch action {
	case "":
		if req.Method != http.MethodGet {
			return errMethodNotAllowed
		}
		details, err := r.groups.Get(req.Context(), userID, groupID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, details)
	case "invite":
		if req.Method != http.MethodPost {
			return errMethodNotAllowed
		}
		issued, err := r.groups.CreateInvite(req.Context(), userID, groupID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, issued)
	case "leave":
		if req.Method != http.MethodPost {
			return errMethodNotAllowed
		}
		if err := r.groups.Leave(req.Context(), userID, groupID); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
	case "expenses":
		return r.handleExpenses(w, req, userID, groupID)
	case "balances":
		if req.Method != http.MethodGet {
			return errMethodNotAllowed
		}
		summary, err := r.expenses.Balances(req.Context(), userID, groupID)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		return errNotFound
	}
	return nil
}

func (r *Router) handleExpenses(w http.ResponseWriter, req *http.Request, userID, groupID int64) error {
	switch req.Method {
	case http.MethodGet:
		items, err := r.expenses.List(req.Context(), userID, groupID)
		if err != nil {
			return err
		}
		if items == nil {
			items = []domain.Expense{}
		}
		writeJSON(w, http.StatusOK, items)
		return nil
	case http.MethodPost:
		var input expense.CreateInput
		if err := decodeJSON(req, &input); err != nil {
			return err
		}
		created, err := r.expenses.Create(req.Context(), userID, groupID, input)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, created)
		return nil
	default:
		return errMethodNotAllowed
	}
}

func (r *Router) handleAvatar(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodPut {
		return errMethodNotAllowed
	}
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	if req.ContentLength > r.avatars.MaxBytes() {
		return errorf(http.StatusRequestEntityTooLarge, "Avatar too large")
	}
	url, err := r.avatars.Upload(req.Context(), userID, req.Header.Get("Content-Type"), req.Body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatarUrl": url})
	return nil
}
