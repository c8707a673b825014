package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/application"
	"github.com/spkampus/portal/pkg/composables"
	"github.com/spkampus/portal/pkg/httpapi"
)

const maxBodyBytes = 1 << 20

type OrgAPIController struct {
	app       application.Application
	org       *services.OrgService
	apiPrefix string
}

func NewOrgAPIController(app application.Application) application.Controller {
	return &OrgAPIController{
		app:       app,
		org:       app.Service(services.OrgService{}).(*services.OrgService),
		apiPrefix: "/org/api",
	}
}

func (c *OrgAPIController) Key() string {
	return c.apiPrefix
}

func (c *OrgAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/tree", c.instrumentAPI("org.tree.get", c.GetTree)).Methods(http.MethodGet)

	api.HandleFunc("/units", c.instrumentAPI("org.units.list", c.ListUnits)).Methods(http.MethodGet)
	api.HandleFunc("/units", c.instrumentAPI("org.units.create", c.CreateUnit)).Methods(http.MethodPost)
	api.HandleFunc("/units/{id}", c.instrumentAPI("org.units.get", c.GetUnit)).Methods(http.MethodGet)
	api.HandleFunc("/units/{id}", c.instrumentAPI("org.units.update", c.UpdateUnit)).Methods(http.MethodPatch)
	api.HandleFunc("/units/{id}", c.instrumentAPI("org.units.delete", c.DeleteUnit)).Methods(http.MethodDelete)
	api.HandleFunc("/units/{id}/positions", c.instrumentAPI("org.units.positions", c.ListUnitPositions)).Methods(http.MethodGet)

	api.HandleFunc("/positions", c.instrumentAPI("org.positions.create", c.CreatePosition)).Methods(http.MethodPost)
	api.HandleFunc("/positions/{id}", c.instrumentAPI("org.positions.get", c.GetPosition)).Methods(http.MethodGet)
	api.HandleFunc("/positions/{id}", c.instrumentAPI("org.positions.update", c.UpdatePosition)).Methods(http.MethodPatch)
	api.HandleFunc("/positions/{id}", c.instrumentAPI("org.positions.delete", c.DeletePosition)).Methods(http.MethodDelete)
	api.HandleFunc("/positions/{id}/holders", c.instrumentAPI("org.positions.holders", c.GetHolders)).Methods(http.MethodGet)
	api.HandleFunc("/positions/{id}/history", c.instrumentAPI("org.positions.history", c.GetHistory)).Methods(http.MethodGet)
	api.HandleFunc("/positions/{id}/chain", c.instrumentAPI("org.positions.chain", c.GetReportingChain)).Methods(http.MethodGet)

	api.HandleFunc("/assignments", c.instrumentAPI("org.assignments.start", c.StartAssignment)).Methods(http.MethodPost)
	api.HandleFunc("/assignments/{id}:end", c.instrumentAPI("org.assignments.end", c.EndAssignment)).Methods(http.MethodPost)

	api.HandleFunc("/members/{id}/assignments", c.instrumentAPI("org.members.assignments", c.GetMemberAssignments)).Methods(http.MethodGet)
}

func (c *OrgAPIController) GetTree(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseTreeQuery(w, r)
	if !ok {
		return
	}
	tree, err := c.org.ComposeTree(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (c *OrgAPIController) ListUnits(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseTreeQuery(w, r)
	if !ok {
		return
	}
	nodes, err := c.org.ListTree(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	type listUnitsResponse struct {
		Units []*services.UnitNode `json:"units"`
	}
	writeJSON(w, http.StatusOK, listUnitsResponse{Units: nodes})
}

func (c *OrgAPIController) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req createUnitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", err.Error())
		return
	}
	unit, err := c.org.CreateUnit(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (c *OrgAPIController) GetUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	unit, err := c.org.GetUnit(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (c *OrgAPIController) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req updateUnitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", err.Error())
		return
	}
	unit, err := c.org.UpdateUnit(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (c *OrgAPIController) DeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := c.org.DeleteUnit(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *OrgAPIController) ListUnitPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	positions, err := c.org.ListByUnit(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	type listPositionsResponse struct {
		UnitID    uuid.UUID                      `json:"unit_id"`
		Positions []services.PositionWithHolders `json:"positions"`
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{UnitID: id, Positions: positions})
}

func (c *OrgAPIController) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", err.Error())
		return
	}
	pos, err := c.org.CreatePosition(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

func (c *OrgAPIController) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	pos, err := c.org.GetPosition(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (c *OrgAPIController) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req updatePositionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", err.Error())
		return
	}
	pos, err := c.org.UpdatePosition(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (c *OrgAPIController) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := c.org.DeletePosition(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignmentsResponse struct {
	PositionID  *uuid.UUID `json:"position_id,omitempty"`
	MemberID    *int64     `json:"member_id,omitempty"`
	AsOf        string     `json:"as_of,omitempty"`
	Assignments any        `json:"assignments"`
}

func (c *OrgAPIController) GetHolders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	asOf, err := parseAsOf(composables.GetLastQueryParam(r, "as_of"))
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_QUERY", "as_of is invalid")
		return
	}
	holders, err := c.org.CurrentHoldersOf(r.Context(), id, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{PositionID: &id, AsOf: formatAsOf(asOf), Assignments: holders})
}

func (c *OrgAPIController) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	history, err := c.org.AssignmentHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{PositionID: &id, Assignments: history})
}

func (c *OrgAPIController) GetReportingChain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	chain, err := c.org.ReportingChain(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	type chainResponse struct {
		PositionID uuid.UUID `json:"position_id"`
		Chain      any       `json:"chain"`
	}
	writeJSON(w, http.StatusOK, chainResponse{PositionID: id, Chain: chain})
}

func (c *OrgAPIController) StartAssignment(w http.ResponseWriter, r *http.Request) {
	var req startAssignmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", err.Error())
		return
	}
	a, err := c.org.StartAssignment(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (c *OrgAPIController) EndAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req endAssignmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	endDate, err := parseDay(req.EndDate)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", "end_date is invalid")
		return
	}
	a, err := c.org.EndAssignment(r.Context(), id, endDate, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (c *OrgAPIController) GetMemberAssignments(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || memberID <= 0 {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_QUERY", "member id is invalid")
		return
	}
	asOf, err := parseAsOf(composables.GetLastQueryParam(r, "as_of"))
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_QUERY", "as_of is invalid")
		return
	}
	assignments, err := c.org.MemberAssignments(r.Context(), memberID, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{MemberID: &memberID, AsOf: formatAsOf(asOf), Assignments: assignments})
}

type validatable interface {
	Ok() error
}

func decodeRequest(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := decodeJSON(r.Body, req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", "invalid json body")
		return false
	}
	if err := req.Ok(); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_BODY", err.Error())
		return false
	}
	return true
}

func parseTreeQuery(w http.ResponseWriter, r *http.Request) (services.TreeFilter, bool) {
	q, err := composables.UseQuery(&treeQuery{}, r)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_QUERY", "invalid query parameters")
		return services.TreeFilter{}, false
	}
	filter, err := q.filter()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_QUERY", err.Error())
		return services.TreeFilter{}, false
	}
	return filter, true
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "ORG_INVALID_ID", "id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func formatAsOf(asOf time.Time) string {
	if asOf.IsZero() {
		return ""
	}
	return asOf.Format(time.DateOnly)
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		_ = httpapi.WriteKindError(w, svcErr.Status, string(svcErr.Kind), svcErr.Code, svcErr.Message, requestMeta(r))
		return
	}
	composables.UseLogger(r.Context()).WithError(err).Error("org api: unmapped error")
	_ = httpapi.WriteKindError(w, http.StatusInternalServerError, string(services.KindInfrastructure), "ORG_INTERNAL", "internal error", requestMeta(r))
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = httpapi.WriteKindError(w, status, string(services.KindValidation), code, message, requestMeta(r))
}

func requestMeta(r *http.Request) map[string]string {
	requestID := strings.TrimSpace(composables.UseRequestID(r.Context()))
	if requestID == "" {
		return nil
	}
	return map[string]string{"request_id": requestID}
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
