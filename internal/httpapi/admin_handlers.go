package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func (s *Server) decode(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: invalid JSON body", service.ErrValidation)
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", service.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: person id must be a positive integer", service.ErrValidation)
	}
	return id, nil
}

type accessOp func(context.Context, int64, types.AccessMutationRequest, string) (types.AccessState, error)

func (s *Server) handleAccessMutation(op accessOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		var req types.AccessMutationRequest
		if err := s.decode(r, &req, true); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		st, err := op(r.Context(), id, req, actorFrom(r.Context()))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handlePersonAccess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pa, err := s.access.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pa)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req types.BatchMutationRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	report, err := s.access.BatchMutate(r.Context(), req, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCardRegister(w http.ResponseWriter, r *http.Request) {
	var req types.CardRegisterRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	v, err := s.cards.Register(r.Context(), req, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleCardGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.cards.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCardBind(w http.ResponseWriter, r *http.Request) {
	var req types.CardBindRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	v, err := s.cards.Bind(r.Context(), r.PathValue("id"), req, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type cardOp func(ctx context.Context, cardOrID, reason, actor string) (types.CardView, error)

func (s *Server) handleCardReason(op cardOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CardReasonRequest
		if err := s.decode(r, &req, true); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		v, err := op(r.Context(), r.PathValue("id"), req.Reason, actorFrom(r.Context()))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) handleQRIssue(w http.ResponseWriter, r *http.Request) {
	var req types.QRIssueRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp, err := s.qr.Issue(r.Context(), req, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleQRValidate reports a deny as 200 with allow=false.
func (s *Server) handleQRValidate(w http.ResponseWriter, r *http.Request) {
	var req types.QRValidateRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.qr.Validate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQRRevoke(w http.ResponseWriter, r *http.Request) {
	tok, err := s.qr.Revoke(r.Context(), r.PathValue("jti"), actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func listFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	var f store.ListFilter
	intParam := func(name string) (int, error) {
		v := strings.TrimSpace(q.Get(name))
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %s must be a non-negative integer", service.ErrValidation, name)
		}
		return n, nil
	}
	var err error
	if f.Page.Page, err = intParam("page"); err != nil {
		return f, err
	}
	if f.Page.Limit, err = intParam("limit"); err != nil {
		return f, err
	}
	if v := strings.TrimSpace(q.Get("personId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("%w: personId must be a positive integer", service.ErrValidation)
		}
		f.PersonID = &id
	}
	f.Status = strings.TrimSpace(q.Get("status"))
	f.Source = strings.TrimSpace(q.Get("source"))
	f.Page = f.Page.Normalize()
	return f, nil
}

func listHandler[T any](s *Server, list func(context.Context, store.ListFilter) ([]T, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := listFilter(r)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		items, total, err := list(r.Context(), f)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, types.ListResponse[T]{
			Items: items,
			Page:  f.Page.Page,
			Limit: f.Page.Limit,
			Total: total,
		})
	}
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current().Masked())
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var patch types.SettingsPatch
	if err := s.decode(r, &patch, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out, err := s.settings.Update(r.Context(), patch, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSettingsCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Check(r.Context()))
}
