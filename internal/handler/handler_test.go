package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/cart"
	"github.com/mmeshcher/storefront-core/internal/middleware"
	"github.com/mmeshcher/storefront-core/internal/model"
	"github.com/mmeshcher/storefront-core/internal/repository"
	"github.com/mmeshcher/storefront-core/internal/service"
	"github.com/mmeshcher/storefront-core/internal/workflow"
)

const adminEmail = "admin@example.com"

type stubService struct {
	loginIn  service.LoginInput
	loginRes service.LoginResult
	loginErr error

	applyErr error
	applied  service.WorkerApplication

	submitted service.ListingInput

	workers       []model.Worker
	listings      []model.Listing
	listedStatus  model.WorkflowStatus
	transitionErr error
	retryErr      error

	dead       []model.OutboxEntry
	requeueErr error
}

func (s *stubService) Login(_ context.Context, in service.LoginInput) (service.LoginResult, error) {
	s.loginIn = in
	return s.loginRes, s.loginErr
}

func (s *stubService) ApplyWorker(_ context.Context, in service.WorkerApplication) (model.Worker, error) {
	s.applied = in
	if s.applyErr != nil {
		return model.Worker{}, s.applyErr
	}
	return model.Worker{ID: "w-1", FirstName: in.FirstName, Email: in.Email, Status: model.StatusPending}, nil
}

func (s *stubService) SubmitListing(_ context.Context, in service.ListingInput) (model.Listing, error) {
	s.submitted = in
	return model.Listing{ID: "l-1", Title: in.Title, Price: in.Price, Status: model.StatusPending}, nil
}

func (s *stubService) ListWorkers(_ context.Context, status model.WorkflowStatus) ([]model.Worker, error) {
	s.listedStatus = status
	return s.workers, nil
}

func (s *stubService) ListListings(_ context.Context, status model.WorkflowStatus) ([]model.Listing, error) {
	s.listedStatus = status
	return s.listings, nil
}

func (s *stubService) Transition(_ context.Context, kind model.SubjectKind, id string, target model.WorkflowStatus) (workflow.Ack, error) {
	if s.transitionErr != nil {
		return workflow.Ack{}, s.transitionErr
	}
	return workflow.Ack{Subject: kind, ID: id, Status: target}, nil
}

func (s *stubService) RetryActivation(_ context.Context, id string) (workflow.Ack, error) {
	if s.retryErr != nil {
		return workflow.Ack{}, s.retryErr
	}
	return workflow.Ack{Subject: model.SubjectWorker, ID: id, Status: model.StatusApproved}, nil
}

func (s *stubService) ListInconsistentWorkers(context.Context) ([]model.Worker, error) {
	return s.workers, nil
}

func (s *stubService) ListDeadNotifications(context.Context) ([]model.OutboxEntry, error) {
	return s.dead, nil
}

func (s *stubService) RetryNotification(_ context.Context, id string) (model.OutboxEntry, error) {
	if s.requeueErr != nil {
		return model.OutboxEntry{}, s.requeueErr
	}
	return model.OutboxEntry{ID: id, Kind: "status_change", Status: model.OutboxPending}, nil
}

type testServer struct {
	router   http.Handler
	sessions *middleware.SessionManager
}

func newTestServer(t *testing.T, svc Service) *testServer {
	t.Helper()

	sessions := middleware.NewSessionManager("test-secret")
	h := NewHandler(svc, zap.NewNop(), sessions, []string{adminEmail}, "ky-KG")
	return &testServer{router: h.SetupRouter(), sessions: sessions}
}

func (s *testServer) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) session(t *testing.T, email string) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	require.NoError(t, s.sessions.SetSessionCookie(rec, email))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func cookieByName(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestGetRegion(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := srv.do(t, http.MethodGet, "/api/region", "", &http.Cookie{Name: "locale", Value: "ru-KZ"})
	require.Equal(t, http.StatusOK, rec.Code)

	var reg model.Region
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, "channel-kz", reg.Market.Channel)
	assert.Equal(t, "RU_KZ", reg.Language.Code)
}

func TestLogin_RotatesCheckoutCookie(t *testing.T) {
	svc := &stubService{loginRes: service.LoginResult{
		Account: model.Account{Email: "buyer@example.com"},
		Merge:   cart.Outcome{Result: cart.Merged, CartID: "acc-cart"},
		CartID:  "acc-cart",
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/user/login",
		`{"email":"buyer@example.com","password":"secret"}`,
		&http.Cookie{Name: CheckoutCookie, Value: "guest-cart"},
	)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "guest-cart", svc.loginIn.GuestCartID)
	assert.Equal(t, "channel-kg", svc.loginIn.Region.Channel())

	res := rec.Result()
	checkout := cookieByName(res, CheckoutCookie)
	require.NotNil(t, checkout)
	assert.Equal(t, "acc-cart", checkout.Value)

	session := cookieByName(res, "session")
	require.NotNil(t, session)
	email, err := srv.sessions.Parse(session.Value)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", email)

	var body loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(cart.Merged), body.Merge)
}

func TestLogin_MergeFailureStillSucceeds(t *testing.T) {
	svc := &stubService{loginRes: service.LoginResult{
		Account: model.Account{Email: "buyer@example.com"},
		Merge:   cart.Outcome{Result: cart.Failed},
		CartID:  "guest-cart",
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/user/login", `{"email":"buyer@example.com","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, cookieByName(rec.Result(), "session"))
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "invalid email", body: `{"email":"nope","password":"x"}`, want: http.StatusUnprocessableEntity},
		{name: "invalid credentials", body: `{"email":"a@b.co","password":"x"}`,
			err: fmt.Errorf("%w: denied", service.ErrInvalidCredentials), want: http.StatusUnauthorized},
		{name: "backend failure", body: `{"email":"a@b.co","password":"x"}`,
			err: errors.New("timeout"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubService{loginErr: tt.err})
			rec := srv.do(t, http.MethodPost, "/api/user/login", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Nil(t, cookieByName(rec.Result(), "session"))
		})
	}
}

const validWorker = `{"first_name":"Азамат","last_name":"Усенов","email":"m@example.com",` +
	`"phone":"+996 555 123-456","role":"plumber","password":"longpassword"}`

func TestApplyWorker(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/workers/apply", validWorker)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body workerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "w-1", body.ID)
	assert.Equal(t, "pending", body.Status)
	assert.Equal(t, "longpassword", svc.applied.Password)
}

func TestApplyWorker_Errors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		srv := newTestServer(t, &stubService{applyErr: repository.ErrWorkerExists})
		rec := srv.do(t, http.MethodPost, "/api/workers/apply", validWorker)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid fields", func(t *testing.T) {
		srv := newTestServer(t, &stubService{})
		rec := srv.do(t, http.MethodPost, "/api/workers/apply",
			`{"first_name":"A","last_name":"B","email":"m@example.com","phone":"12","role":"x","password":"short"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var body struct {
			Errors map[string]string `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "phone", body.Errors["phone"])
		assert.Equal(t, "min", body.Errors["password"])
	})
}

func TestSubmitListing(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/listings",
		`{"title":"Дрель","category":"tools","price":"1500.5","contact":"@seller"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body listingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1500.50", body.Price)
	assert.True(t, svc.submitted.Price.Equal(decimal.RequireFromString("1500.5")))

	rec = srv.do(t, http.MethodPost, "/api/listings", `{"title":"Дрель","category":"tools","price":"0","contact":"@seller"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitListing_GzipBody(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"title":"Дрель","category":"tools","price":"99.9","contact":"@seller"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/listings", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "Дрель", svc.submitted.Title)

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var body listingResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&body))
	assert.Equal(t, "99.90", body.Price)
}

func TestGetPublishedListings(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/listings", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, model.StatusPublished, svc.listedStatus)

	svc.listings = []model.Listing{{ID: "l-1", Price: decimal.NewFromInt(10), Status: model.StatusPublished, CreatedAt: time.Now()}}
	rec = srv.do(t, http.MethodGet, "/api/listings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":"10.00"`)
}

func TestAdmin_Access(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := srv.do(t, http.MethodGet, "/api/admin/workers", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/admin/workers", "", srv.session(t, "buyer@example.com"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/admin/workers", "", srv.session(t, "Admin@Example.com"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdmin_ListWorkersByStatus(t *testing.T) {
	svc := &stubService{workers: []model.Worker{{ID: "w-1", Status: model.StatusPending}}}
	srv := newTestServer(t, svc)
	admin := srv.session(t, adminEmail)

	rec := srv.do(t, http.MethodGet, "/api/admin/workers?status=pending", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusPending, svc.listedStatus)

	rec = srv.do(t, http.MethodGet, "/api/admin/workers?status=bogus", "", admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_UpdateStatus(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{name: "listing published", target: "/api/admin/listings/l-1/status", want: http.StatusOK},
		{name: "worker approved", target: "/api/admin/workers/w-1/status", want: http.StatusOK},
		{name: "not allowed", target: "/api/admin/listings/l-1/status",
			err: fmt.Errorf("%w: listings to pending", workflow.ErrTransitionNotAllowed), want: http.StatusConflict},
		{name: "missing", target: "/api/admin/workers/w-404/status",
			err: fmt.Errorf("worker w-404: %w", repository.ErrNotFound), want: http.StatusNotFound},
		{name: "unknown kind", target: "/api/admin/orders/o-1/status", want: http.StatusNotFound},
		{name: "store failure", target: "/api/admin/workers/w-1/status", err: errors.New("db down"),
			want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubService{transitionErr: tt.err})
			rec := srv.do(t, http.MethodPatch, tt.target, `{"status":"approved"}`, srv.session(t, adminEmail))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAdmin_UpdateStatusReturnsAck(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := srv.do(t, http.MethodPatch, "/api/admin/workers/w-1/status", `{"status":"rejected"}`, srv.session(t, adminEmail))
	require.Equal(t, http.StatusOK, rec.Code)

	var ack workflow.Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, workflow.Ack{Subject: model.SubjectWorker, ID: "w-1", Status: model.StatusRejected}, ack)
}

func TestAdmin_RetryActivation(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	admin := srv.session(t, adminEmail)

	rec := srv.do(t, http.MethodPost, "/api/admin/workers/w-1/activate", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(t, &stubService{retryErr: fmt.Errorf("%w: backend down", workflow.ErrActivationFailed)})
	rec = srv.do(t, http.MethodPost, "/api/admin/workers/w-1/activate", "", srv.session(t, adminEmail))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAdmin_Notifications(t *testing.T) {
	svc := &stubService{dead: []model.OutboxEntry{{ID: "n-1", Kind: "seller_listing", Status: model.OutboxDead, Attempts: 8}}}
	srv := newTestServer(t, svc)
	admin := srv.session(t, adminEmail)

	rec := srv.do(t, http.MethodGet, "/api/admin/notifications/dead", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attempts":8`)

	rec = srv.do(t, http.MethodPost, "/api/admin/notifications/n-1/retry", "", admin)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	svc.requeueErr = fmt.Errorf("dead notification n-2: %w", repository.ErrNotFound)
	rec = srv.do(t, http.MethodPost, "/api/admin/notifications/n-2/retry", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, srv.do(t, http.MethodDelete, "/api/region", "").Code)
}
