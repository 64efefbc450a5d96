package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"ledger/internal/core"
	"ledger/internal/log"
)

const maxRecentLimit = 100

type transactionList struct {
	Range        core.Range         `json:"range,omitempty"`
	Count        int                `json:"count"`
	Transactions []core.Transaction `json:"transactions"`
}

func newTransactionList(r core.Range, txs []core.Transaction) transactionList {
	if txs == nil {
		txs = []core.Transaction{}
	}
	return transactionList{Range: r, Count: len(txs), Transactions: txs}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	var cat core.Category
	if v := r.URL.Query().Get("category"); v != "" {
		c, err := core.ParseCategory(v)
		if err != nil {
			UnprocessableEntityError(err.Error()).Write(w)
			return
		}
		cat = c
	}
	NewJSONResponse().Data(newTransactionList("", l.ByCategory(cat))).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	l, userID, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		decodeError(w, err)
		return
	}
	tx, err := req.transaction()
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := l.Add(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, found := l.Get(id)
	if !found {
		created = tx
		created.ID = id
		created.UserID = userID
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created",
		log.NewFields().WithUser(userID).WithTransaction(created).ToSlice()...)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/v1/transactions/"+id).
		Data(created).
		Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var req patchTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		decodeError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := l.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(updated).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	if err := l.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

type reloadResponse struct {
	Count    int    `json:"count"`
	LoadedAt string `json:"loadedAt"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	if err := l.Load(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(reloadResponse{
		Count:    l.Len(),
		LoadedAt: l.LoadedAt().UTC().Format("2006-01-02T15:04:05Z07:00"),
	}).Write(w)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	limit, err := ParseLimit(r.URL.Query(), maxRecentLimit)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	NewJSONResponse().Data(newTransactionList("", l.RecentTransactions(limit))).Write(w)
}

func (s *Server) handleRangeTransactions(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	rng, err := ParseRangeParam(r.URL.Query(), l.SelectedRange())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newTransactionList(rng, l.FilterByRange(rng))).Write(w)
}

func (s *Server) handleMonthlyTransactions(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	p, err := ParseMonthParams(r.URL.Query(), s.now())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	NewJSONResponse().Data(newTransactionList("", l.MonthlyTransactions(p.Ref()))).Write(w)
}
