package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/auth"
	"github.com/smith3v/couple-devotional/pkg/devotional"
	"github.com/smith3v/couple-devotional/pkg/users"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type authResp struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      users.PublicUser `json:"user"`
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request, status int, user users.PublicUser) {
	token, expires, err := s.svc.Auth.Sign(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secureCookie,
		Expires:  expires,
	})
	writeJSON(w, status, authResp{Token: token, ExpiresAt: expires, User: user})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentialsReq
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.svc.Users.Register(r.Context(), in.Email, in.Name, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.signIn(w, r, http.StatusCreated, user)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var in credentialsReq
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.svc.Users.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.signIn(w, r, http.StatusOK, user)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secureCookie,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Users.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Users.Get(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	premium, err := s.svc.Users.IsPremium(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": users.Public(user), "premium": premium})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Users.Heartbeat(r.Context(), currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Users.SetPushToken(r.Context(), currentUser(r), in.Token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Users.ActivateSubscription(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"startsAt": sub.StartsAt, "expiresAt": sub.ExpiresAt})
}

func (s *Server) handleCouple(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Pairing.View(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Pairing.GenerateJoinCode(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.svc.Pairing.RedeemJoinCode(r.Context(), currentUser(r), in.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDisband(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	coupleID, err := s.coupleID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Pairing.Disband(r.Context(), coupleID, currentUser(r), in.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// coupleID returns the caller's couple or a NotFound error.
func (s *Server) coupleID(r *http.Request) (string, error) {
	user, err := s.svc.Users.Get(r.Context(), currentUser(r))
	if err != nil {
		return "", err
	}
	if user.CoupleID == nil {
		return "", apperr.NotFound("user has no couple")
	}
	return *user.CoupleID, nil
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	coupleID, err := s.coupleID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	week, err := s.svc.Ledger.Week(r.Context(), coupleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

func (s *Server) handleWeekHistory(w http.ResponseWriter, r *http.Request) {
	weeks, err := queryInt(r, "weeks")
	if err != nil {
		writeError(w, r, err)
		return
	}
	coupleID, err := s.coupleID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := s.svc.Ledger.History(r.Context(), coupleID, weeks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	coupleID, err := s.coupleID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	premium, err := s.svc.Users.IsPremium(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	available := true
	if !premium {
		if available, err = s.svc.Gate.Available(r.Context(), coupleID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": available, "premium": premium})
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Input     string `json:"input"`
		Theme     string `json:"theme"`
		PlanDayID string `json:"planDayId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	var (
		session devotional.SessionView
		err     error
	)
	if in.PlanDayID != "" {
		session, err = s.svc.Sessions.BeginPlanDay(r.Context(), currentUser(r), in.PlanDayID)
	} else {
		session, err = s.svc.Sessions.Begin(r.Context(), currentUser(r), in.Input, in.Theme)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Sessions.Current(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := s.svc.Sessions.History(r.Context(), currentUser(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Sessions.Get(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "id"), currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	completion, err := s.svc.Sessions.CompleteMyPart(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.svc.Sessions.Notes(r.Context(), chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	note, err := s.svc.Sessions.UpdateMyNote(r.Context(), chi.URLParam(r, "id"), currentUser(r), in.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"suggestion": s.svc.Suggester.Suggest()})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Plans.List(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Description string `json:"description"`
		Duration    int    `json:"duration"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	plan, err := s.svc.Plans.Create(r.Context(), currentUser(r), in.Description, in.Duration)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.svc.Plans.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Plans.Delete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartPlanDay(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Sessions.BeginPlanDay(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}
