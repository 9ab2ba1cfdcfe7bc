package httpx

import (
	"net/http"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/service/auth"
)

type userView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	UniqueID string `json:"uniqueId"`
}

type profileView struct {
	userView
	AvatarURL *string `json:"avatarUrl"`
}

func newUserView(u *domain.User) userView {
	return userView{ID: u.ID, Email: u.Email, Username: u.Username, UniqueID: u.UniqueID}
}

func newProfileView(u *domain.User) profileView {
	return profileView{userView: newUserView(u), AvatarURL: u.AvatarURL}
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodPost {
		return errMethodNotAllowed
	}
	if err := requireJSON(req); err != nil {
		return err
	}
	body, err := readJSON(req)
	if err != nil {
		return err
	}
	fields, ok := looseStrings(body, "email", "password", "username")
	if !ok {
		return errorf(http.StatusBadRequest, "Invalid field types: expected strings for email, password, username")
	}
	user, token, err := r.auth.Register(req.Context(), auth.RegisterInput{
		Email:    fields[0],
		Password: fields[1],
		Username: fields[2],
	})
	if err != nil {
		return err
	}
	r.metrics.recordRegistration()
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  newUserView(user),
	})
	return nil
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodPost {
		return errMethodNotAllowed
	}
	if err := requireJSON(req); err != nil {
		return err
	}
	body, err := readJSON(req)
	if err != nil {
		return err
	}
	fields, ok := looseStrings(body, "email", "password")
	if !ok {
		return errorf(http.StatusBadRequest, "Invalid field types")
	}
	user, token, err := r.auth.Login(req.Context(), fields[0], fields[1])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  newProfileView(user),
	})
	return nil
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) error {
	if req.Method != http.MethodGet {
		return errMethodNotAllowed
	}
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	user, err := r.auth.Me(req.Context(), userID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, newProfileView(user))
	return nil
}
