package http

import (
	"net/http"

	"ledger/internal/export"
	"ledger/internal/log"
)

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	l, userID, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	txs := l.Snapshot()
	name := "transactions-" + s.now().UTC().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, txs); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "CSV export failed",
			log.FieldUserID, userID, log.FieldError, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "CSV export served",
		log.FieldUserID, userID, log.FieldCount, len(txs))
}

type exportResponse struct {
	Ref   string `json:"ref"`
	Count int    `json:"count"`
}

func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sheets == nil {
		ErrorResponse(http.StatusNotImplemented, "spreadsheet export is not configured").Write(w)
		return
	}
	l, userID, ok := s.ledgerFor(w, r)
	if !ok {
		return
	}
	txs := l.Snapshot()
	ref, err := s.deps.Sheets.Export(r.Context(), txs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Spreadsheet export written",
		log.FieldUserID, userID, log.FieldCount, len(txs), "ref", ref)
	NewJSONResponse().Data(exportResponse{Ref: ref, Count: len(txs)}).Write(w)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		ErrorResponse(http.StatusNotImplemented, "live updates are not enabled").Write(w)
		return
	}
	userID, ok := s.identity.CurrentUserID(r.Context())
	if !ok {
		ErrorResponse(http.StatusUnauthorized, "not signed in").Write(w)
		return
	}
	if err := s.deps.Hub.Serve(w, r, userID); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "WebSocket upgrade failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
}
