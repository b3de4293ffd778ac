package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/jeremy-jemverse/flownodes/internal/orders"
	"github.com/jeremy-jemverse/flownodes/internal/runtime"
	"github.com/jeremy-jemverse/flownodes/internal/schema"
)

// maxRequestBodySize limits incoming request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handlers exposes workflow operations over HTTP: starting order sagas,
// submitting workflow schemas, and the signal/query/cancel/result surface of
// running workflows.
type Handlers struct {
	client    *runtime.Client
	orders    *orders.Workflow
	processor *schema.Processor
	logf      func(format string, args ...any)
}

// NewHandlers constructs the handler set.
func NewHandlers(client *runtime.Client, orderWorkflow *orders.Workflow, processor *schema.Processor, logf func(format string, args ...any)) *Handlers {
	if logf == nil {
		logf = log.Printf
	}
	return &Handlers{
		client:    client,
		orders:    orderWorkflow,
		processor: processor,
		logf:      logf,
	}
}

// StartOrderRequest is the body for POST /api/v1/orders.
type StartOrderRequest struct {
	OrderID     string        `json:"orderId"`
	UserID      string        `json:"userId"`
	Items       []orders.Item `json:"items"`
	TotalAmount float64       `json:"totalAmount"`
}

type startResponse struct {
	Success    bool   `json:"success"`
	WorkflowID string `json:"workflowId"`
}

// HandleStartOrder handles POST /api/v1/orders.
func (h *Handlers) HandleStartOrder(w http.ResponseWriter, r *http.Request) {
	var req StartOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OrderID == "" || req.UserID == "" {
		writeError(w, fmt.Errorf("orderId and userId are required: %w", ErrInvalidInput))
		return
	}

	handle, err := h.orders.Start(h.client, req.OrderID, req.UserID, req.Items, req.TotalAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logf("api: started order workflow %s", handle.ID())
	writeJSON(w, http.StatusAccepted, startResponse{Success: true, WorkflowID: handle.ID()})
}

// HandleSubmitSchema handles POST /api/v1/workflows. The body is a workflow
// schema; it is validated and started as a schema-processor run.
func (h *Handlers) HandleSubmitSchema(w http.ResponseWriter, r *http.Request) {
	var s schema.Schema
	if err := decodeBody(r, &s); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Validate(); err != nil {
		writeError(w, err)
		return
	}

	attrs := map[string]string{"kind": "schema_processing", "name": s.Name}
	handle, err := h.client.Start(s.WorkflowID, schema.WorkflowType, attrs, h.processor.Workflow(&s))
	if err != nil {
		writeError(w, err)
		return
	}

	h.logf("api: started schema workflow %s (%s)", handle.ID(), s.Name)
	writeJSON(w, http.StatusAccepted, startResponse{Success: true, WorkflowID: handle.ID()})
}

type workflowResponse struct {
	Success  bool         `json:"success"`
	Workflow runtime.Info `json:"workflow"`
}

// HandleGetWorkflow handles GET /api/v1/workflows/{id}.
func (h *Handlers) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	handle, err := h.client.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowResponse{Success: true, Workflow: handleInfo(handle)})
}

type listResponse struct {
	Success   bool           `json:"success"`
	Workflows []runtime.Info `json:"workflows"`
}

// HandleListWorkflows handles GET /api/v1/workflows. Query parameters type,
// status, and attr.<key> filter the result.
func (h *Handlers) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := runtime.Filter{
		Type:   r.URL.Query().Get("type"),
		Status: runtime.Status(r.URL.Query().Get("status")),
	}
	for key, values := range r.URL.Query() {
		if len(key) > 5 && key[:5] == "attr." && len(values) > 0 {
			if filter.SearchAttributes == nil {
				filter.SearchAttributes = make(map[string]string)
			}
			filter.SearchAttributes[key[5:]] = values[0]
		}
	}

	infos := h.client.List(filter)
	if infos == nil {
		infos = []runtime.Info{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Workflows: infos})
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleSignal handles POST /api/v1/workflows/{id}/signal/{name}. The body
// is delivered to the signal handler as its payload.
func (h *Handlers) HandleSignal(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, fmt.Errorf("read body: %w", ErrInvalidInput))
		return
	}

	if err := h.client.Signal(r.PathValue("id"), r.PathValue("name"), payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "signal delivered"})
}

type queryResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// HandleQuery handles POST /api/v1/workflows/{id}/query/{name}.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	data, err := h.client.Query(r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Success: true, Data: data})
}

// HandleCancel handles POST /api/v1/workflows/{id}/cancel.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Cancel(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "cancellation requested"})
}

type resultResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// HandleResult handles GET /api/v1/workflows/{id}/result. It blocks until
// the workflow finishes or the request context ends.
func (h *Handlers) HandleResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.client.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true, Result: result})
}

func handleInfo(h *runtime.Handle) runtime.Info {
	return runtime.Info{
		ID:               h.ID(),
		Type:             h.Type(),
		Status:           h.Status(),
		StartedAt:        h.StartedAt(),
		SearchAttributes: h.SearchAttributes(),
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", ErrInvalidInput)
	}
	if len(body) > maxRequestBodySize {
		return fmt.Errorf("request body too large: %w", ErrInvalidInput)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", ErrInvalidInput)
	}
	return nil
}
