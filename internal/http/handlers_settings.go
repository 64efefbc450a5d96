package http

import "net/http"

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity.CurrentUserID(r.Context())
	if !ok {
		ErrorResponse(http.StatusUnauthorized, "not signed in").Write(w)
		return
	}
	st, err := s.deps.Settings.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(st).Write(w)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity.CurrentUserID(r.Context())
	if !ok {
		ErrorResponse(http.StatusUnauthorized, "not signed in").Write(w)
		return
	}
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		decodeError(w, err)
		return
	}
	st, err := s.deps.Settings.Update(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(st).Write(w)
}

func (s *Server) handleSetCurrency(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity.CurrentUserID(r.Context())
	if !ok {
		ErrorResponse(http.StatusUnauthorized, "not signed in").Write(w)
		return
	}
	var req currencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		decodeError(w, err)
		return
	}
	st, err := s.deps.Settings.SetCurrency(r.Context(), userID, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(st).Write(w)
}
