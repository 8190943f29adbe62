package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/alloc"
	"github.com/orbitenv/orbit/internal/api/middleware"
	"github.com/orbitenv/orbit/internal/collab"
	"github.com/orbitenv/orbit/internal/core"
)

// ActorHeader carries the acting identity; the account service in front of
// this API sets it. It is recorded, not authenticated, here.
const ActorHeader = "X-Orbit-Actor"

// Store is the slice of the persistence layer the API needs.
type Store interface {
	CreateWorkspace(ctx context.Context, ws *core.Workspace) (*core.Workspace, error)
	GetWorkspace(ctx context.Context, wsid string) (*core.Workspace, error)
	GetWorkspaceByIdempotencyKey(ctx context.Context, companyID, key string) (*core.Workspace, error)
	ListWorkspaces(ctx context.Context, limit int, cursor *time.Time) ([]*core.Workspace, error)
	RequestCancel(ctx context.Context, wsid string) (bool, error)
	DeleteWorkspace(ctx context.Context, wsid string) error
	ListMetricSamples(ctx context.Context, wsid string, from, to *time.Time, limit int) ([]*core.MetricSample, error)
	InsertAudit(ctx context.Context, wsid *string, actor json.RawMessage, action string, requestID *string, payload json.RawMessage) error
}

// Templates is the registry surface the API exposes.
type Templates interface {
	Create(ctx context.Context, t *core.Template) (*core.Template, error)
	Get(ctx context.Context, templateID string) (*core.Template, error)
	List(ctx context.Context, activeOnly bool) ([]*core.Template, error)
	Update(ctx context.Context, t *core.Template) (*core.Template, error)
	Deactivate(ctx context.Context, templateID string) error
	Resolve(ctx context.Context, t *core.Template, overrides map[string]string) (*core.Plan, error)
}

// Engine is the state machine surface the API drives synchronously.
type Engine interface {
	Approve(ctx context.Context, wsid, approver string) (*core.Workspace, error)
	Deny(ctx context.Context, wsid, approver, reason string) (*core.Workspace, error)
	Requeue(ctx context.Context, wsid string) (*core.Workspace, error)
}

// Lifecycle is the run-state surface.
type Lifecycle interface {
	Start(ctx context.Context, wsid string) error
	Stop(ctx context.Context, wsid string) error
	Touch(ctx context.Context, wsid string) error
}

// Pinger reports database connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store      Store
	Templates  Templates
	Engine     Engine
	Lifecycle  Lifecycle
	Billing    collab.BillingGate
	Approval   collab.ApprovalPolicy
	Ports      *alloc.Ports
	Namespaces *alloc.Namespaces
	DB         Pinger
	Log        *zap.Logger
}

type API struct {
	store      Store
	templates  Templates
	engine     Engine
	lifecycle  Lifecycle
	billing    collab.BillingGate
	approval   collab.ApprovalPolicy
	ports      *alloc.Ports
	namespaces *alloc.Namespaces
	db         Pinger
	log        *zap.Logger
	now        func() time.Time
}

func NewAPI(d Deps) *API {
	return &API{
		store:      d.Store,
		templates:  d.Templates,
		engine:     d.Engine,
		lifecycle:  d.Lifecycle,
		billing:    d.Billing,
		approval:   d.Approval,
		ports:      d.Ports,
		namespaces: d.Namespaces,
		db:         d.DB,
		log:        d.Log,
		now:        time.Now,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Templates
		r.Get("/templates", a.ListTemplates)
		r.Post("/templates", a.CreateTemplate)
		r.Get("/templates/{template_id}", a.GetTemplate)
		r.Patch("/templates/{template_id}", a.UpdateTemplate)
		r.Delete("/templates/{template_id}", a.DeactivateTemplate)

		// Workspaces
		r.Get("/workspaces", a.ListWorkspaces)
		r.Post("/workspaces", a.CreateWorkspace)
		r.Get("/workspaces/{wsid}", a.GetWorkspace)
		r.Get("/workspaces/{wsid}/status", a.GetWorkspaceStatus)
		r.Delete("/workspaces/{wsid}", a.DeleteWorkspace)
		r.Post("/workspaces/{wsid}:approve", a.ApproveWorkspace)
		r.Post("/workspaces/{wsid}:deny", a.DenyWorkspace)
		r.Post("/workspaces/{wsid}:cancel", a.CancelWorkspace)
		r.Post("/workspaces/{wsid}/requeue", a.RequeueWorkspace)

		// Lifecycle
		r.Post("/workspaces/{wsid}/start", a.StartWorkspace)
		r.Post("/workspaces/{wsid}/stop", a.StopWorkspace)
		r.Post("/workspaces/{wsid}/touch", a.TouchWorkspace)

		// Metrics
		r.Get("/workspaces/{wsid}/metrics", a.ListWorkspaceMetrics)
	})

	return r
}

// actor extracts the acting identity for audit records.
func actor(r *http.Request) string {
	if v := r.Header.Get(ActorHeader); v != "" {
		return v
	}
	return "anonymous"
}

// writeAudit writes an audit log entry.
func (a *API) writeAudit(r *http.Request, wsid string, action string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	if payload == nil {
		payloadBytes = []byte(`{}`)
	}
	actorBytes, _ := json.Marshal(map[string]string{"source": "api", "actor": actor(r)})
	requestID := middleware.GetRequestID(r)

	err := a.store.InsertAudit(r.Context(), &wsid, actorBytes, action, &requestID, payloadBytes)
	if err != nil {
		a.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// encodeCursor encodes a timestamp as a base64 cursor.
func encodeCursor(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.Format(time.RFC3339Nano)))
}

// decodeCursor decodes a base64 cursor to a timestamp.
func decodeCursor(s string) (time.Time, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(b))
}
