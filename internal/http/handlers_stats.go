package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"ledger/internal/core"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	rng, err := ParseRangeParam(r.URL.Query(), l.SelectedRange())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(l.Summary(rng)).Write(w)
}

type breakdownResponse struct {
	Range      core.Range           `json:"range"`
	Expenses   core.Money           `json:"expenses"`
	Categories []core.CategoryShare `json:"categories"`
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	rng, err := ParseRangeParam(r.URL.Query(), l.SelectedRange())
	if err != nil {
		writeError(w, r, err)
		return
	}
	shares := l.CategoryBreakdown(rng)
	if shares == nil {
		shares = []core.CategoryShare{}
	}
	NewJSONResponse().Data(breakdownResponse{
		Range:      rng,
		Expenses:   l.TotalExpenses(rng),
		Categories: shares,
	}).Write(w)
}

func (s *Server) handleMonthOverview(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	p, err := ParseMonthParams(r.URL.Query(), s.now())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ov := l.MonthOverview(p.Ref())
	if ov.ByCategory == nil {
		ov.ByCategory = []core.CategoryShare{}
	}
	NewJSONResponse().Data(ov).Write(w)
}

type categoryTotalResponse struct {
	Category core.Category `json:"category"`
	Range    core.Range    `json:"range"`
	Total    core.Money    `json:"total"`
}

func (s *Server) handleCategoryTotal(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	cat, err := core.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	rng, err := ParseRangeParam(r.URL.Query(), l.SelectedRange())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(categoryTotalResponse{
		Category: cat,
		Range:    rng,
		Total:    l.CategoryTotal(cat, rng),
	}).Write(w)
}

func (s *Server) handleGetRange(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Data(rangeRequest{Range: string(l.SelectedRange())}).Write(w)
}

func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	var req rangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		decodeError(w, err)
		return
	}
	rng, err := core.ParseRange(req.Range)
	if err == nil {
		err = l.SetSelectedRange(rng)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(rangeRequest{Range: string(rng)}).Write(w)
}

func (s *Server) handleGetBudgets(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Data(l.Budgets()).Write(w)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	cat, err := core.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		decodeError(w, err)
		return
	}
	if err := l.SetBudget(cat, req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(l.Budgets()).Write(w)
}
