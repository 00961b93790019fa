package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facecheck/internal/api/handlers"
	"github.com/your-org/facecheck/internal/checkin"
	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/presence"
	"github.com/your-org/facecheck/internal/upload"
	"github.com/your-org/facecheck/pkg/dto"
)

const testAPIKey = "admin-key"

var faces = map[string]models.Descriptor{
	"u1":  {0, 0, 0},
	"u2":  {1, 1, 1},
	"u2a": {1, 1, 0.9},
	"u3":  {-1, -1, -1},
}

type directory map[string]string

func (d directory) GetIdentity(_ context.Context, id string) (*models.Identity, error) {
	name, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, gallery.ErrIdentityNotFound)
	}
	return &models.Identity{ID: id, DisplayName: name, Role: models.RoleStudent}, nil
}

type activities map[string]*models.Activity

func (a activities) GetActivity(_ context.Context, id string) (*models.Activity, error) {
	act, ok := a[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, checkin.ErrActivityNotFound)
	}
	return act, nil
}

type attendance struct {
	mu      sync.Mutex
	records []models.AttendanceRecord
}

func (s *attendance) CreateAttendance(_ context.Context, rec *models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.IdentityID == rec.IdentityID && r.ActivityID == rec.ActivityID {
			return checkin.ErrConflict
		}
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *attendance) GetAttendance(_ context.Context, id string) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("attendance %s: %w", id, checkin.ErrAttendanceNotFound)
}

func (s *attendance) ListAttendance(_ context.Context, identityID string, limit int) ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range s.records {
		if r.IdentityID == identityID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stager struct {
	mu      sync.Mutex
	objects map[string][]byte
	purged  []string
}

func (s *stager) PutObject(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *stager) PurgeStaged(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, taskID)
	for key := range s.objects {
		if strings.Contains(key, taskID) {
			delete(s.objects, key)
		}
	}
	return nil
}

type publisher struct {
	tasks []models.EnrollmentTask
	err   error
}

func (p *publisher) PublishEnrollment(_ context.Context, task models.EnrollmentTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

type fixture struct {
	router     http.Handler
	issuer     *credential.Issuer
	attendance *attendance
	objects    *stager
	tasks      *publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ex := gallery.ExtractorFunc(func(_ context.Context, image []byte) (models.Descriptor, error) {
		d, ok := faces[string(image)]
		if !ok {
			return nil, models.ErrNoFace
		}
		return d, nil
	})
	g := gallery.New(gallery.NewMemoryStore(
		models.GalleryEntry{IdentityID: "U1", DisplayName: "Ada", Descriptors: []models.Descriptor{faces["u1"]}},
		models.GalleryEntry{IdentityID: "U2", DisplayName: "Bo", Descriptors: []models.Descriptor{faces["u2"]}},
	))
	dir := directory{"U1": "Ada", "U2": "Bo", "U3": "Cy"}

	issuer := credential.NewIssuer(credential.Config{
		Secret:          "test-secret",
		Issuer:          "facecheck",
		SessionTTL:      time.Hour,
		ScopedTTL:       30 * time.Minute,
		FaceVerifiedTTL: 2 * time.Minute,
	})
	matcher := gallery.NewMatcher(g, ex, gallery.WithDescriptorDim(3))
	machine := credential.NewMachine(issuer, matcher)
	enroller := gallery.NewEnroller(g, ex, dir, gallery.WithEnrollDim(3), gallery.WithMaxBatch(3))

	validator, err := presence.NewValidator([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	store := &attendance{}
	service := checkin.NewService(activities{
		"A1": {ID: "A1", Name: "Lecture", Geofences: []models.Geofence{{Lat: 10, Lon: 20, RadiusMeters: 50}}},
		"A2": {ID: "A2", Name: "Unplaced"},
	}, store, validator, nil)

	spool, err := upload.NewSpool(t.TempDir(), 1<<20)
	require.NoError(t, err)

	objects := &stager{objects: map[string][]byte{}}
	tasks := &publisher{}

	router, err := NewRouter(RouterConfig{
		APIKey:      testAPIKey,
		Machine:     machine,
		Gallery:     g,
		Enroller:    enroller,
		Identities:  dir,
		Checkin:     service,
		Spool:       spool,
		Objects:     objects,
		Tasks:       tasks,
		MaxBatch:    3,
		MaxFileSize: 1 << 20,
		Checks: map[string]handlers.Check{
			"postgres": func(context.Context) error { return nil },
		},
	})
	require.NoError(t, err)

	return &fixture{router: router, issuer: issuer, attendance: store, objects: objects, tasks: tasks}
}

func (f *fixture) session(t *testing.T, id string) string {
	t.Helper()
	token, _, err := f.issuer.IssueSession(models.Identity{ID: id, Role: models.RoleStudent})
	require.NoError(t, err)
	return token
}

func (f *fixture) scoped(t *testing.T, id, activityID string) string {
	t.Helper()
	session := credential.Claims{IdentityID: id, Tier: credential.TierSession}
	token, _, err := f.issuer.Sign(credential.Scope(session, activityID, time.Minute, time.Now()))
	require.NoError(t, err)
	return token
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, path string, fields map[string]string, images ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for i, img := range images {
		part, err := mw.CreateFormFile("image", fmt.Sprintf("face%d.jpg", i))
		require.NoError(t, err)
		_, err = part.Write([]byte(img))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if v != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(v))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}

func TestVerifyThenMarkAttendance(t *testing.T) {
	f := newFixture(t)

	req := multipartRequest(t, "/v1/face/verify", map[string]string{"activity_id": "A1"}, "u1")
	w := f.do(withBearer(req, f.session(t, "U1")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var cred dto.CredentialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cred))
	assert.Equal(t, "activity_scoped", cred.Tier)
	assert.Equal(t, "U1", cred.IdentityID)
	assert.Equal(t, "A1", cred.ActivityID)
	assert.Zero(t, cred.Distance)

	mark := dto.MarkAttendanceRequest{ActivityID: "A1", Location: &dto.Location{Lat: 10, Lon: 20}}
	w = f.do(withBearer(jsonRequest(t, http.MethodPost, "/v1/attendance", mark), cred.Token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec dto.AttendanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "U1", rec.IdentityID)
	assert.Equal(t, "present", rec.Status)

	w = f.do(withBearer(jsonRequest(t, http.MethodPost, "/v1/attendance", mark), cred.Token))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", errorCode(t, w))

	w = f.do(withBearer(httptest.NewRequest(http.MethodGet, "/v1/attendance/me", nil), f.session(t, "U1")))
	require.Equal(t, http.StatusOK, w.Code)
	var history dto.AttendanceHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, 1, history.Total)
}

func TestGetAttendanceRecord(t *testing.T) {
	f := newFixture(t)

	mark := dto.MarkAttendanceRequest{ActivityID: "A1", Location: &dto.Location{Lat: 10, Lon: 20}}
	w := f.do(withBearer(jsonRequest(t, http.MethodPost, "/v1/attendance", mark), f.scoped(t, "U1", "A1")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created dto.AttendanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = f.do(withBearer(httptest.NewRequest(http.MethodGet, "/v1/attendance/"+created.ID, nil), f.session(t, "U1")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got dto.AttendanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	require.NotNil(t, got.Activity)
	assert.Equal(t, "Lecture", got.Activity.Name)

	w = f.do(withBearer(httptest.NewRequest(http.MethodGet, "/v1/attendance/"+created.ID, nil), f.session(t, "U2")))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorCode(t, w))

	w = f.do(withBearer(httptest.NewRequest(http.MethodGet, "/v1/attendance/missing", nil), f.session(t, "U1")))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/v1/attendance/"+created.ID, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		token  string
		fields map[string]string
		images []string
		status int
		code   string
	}{
		{name: "no credential", fields: map[string]string{"activity_id": "A1"}, images: []string{"u1"}, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "scoped credential", token: f.scoped(t, "U1", "A1"), fields: map[string]string{"activity_id": "A1"}, images: []string{"u1"}, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "someone else's face", token: f.session(t, "U2"), fields: map[string]string{"activity_id": "A1"}, images: []string{"u1"}, status: http.StatusForbidden, code: "identity_mismatch"},
		{name: "no face", token: f.session(t, "U1"), fields: map[string]string{"activity_id": "A1"}, images: []string{"wall"}, status: http.StatusUnprocessableEntity, code: "no_face_detected"},
		{name: "unknown face", token: f.session(t, "U3"), fields: map[string]string{"activity_id": "A1"}, images: []string{"u3"}, status: http.StatusUnauthorized, code: "no_face_recognized"},
		{name: "missing activity", token: f.session(t, "U1"), images: []string{"u1"}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "missing image", token: f.session(t, "U1"), fields: map[string]string{"activity_id": "A1"}, status: http.StatusBadRequest, code: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/v1/face/verify", tt.fields, tt.images...)
			if tt.token != "" {
				withBearer(req, tt.token)
			}
			w := f.do(req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
			assert.NotContains(t, w.Body.String(), `"token"`)
		})
	}
}

func TestMarkAttendancePresence(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		activity   string
		body       dto.MarkAttendanceRequest
		remoteAddr string
		status     int
		code       string
	}{
		{name: "outside geofence", activity: "A1", body: dto.MarkAttendanceRequest{Location: &dto.Location{Lat: 10.01, Lon: 20}}, status: http.StatusForbidden, code: "outside_geofence"},
		{name: "no location", activity: "A1", status: http.StatusBadRequest, code: "location_required"},
		{name: "activity without locations", activity: "A2", body: dto.MarkAttendanceRequest{Location: &dto.Location{Lat: 10, Lon: 20}}, status: http.StatusBadRequest, code: "no_location_configured"},
		{name: "other activity", activity: "A1", body: dto.MarkAttendanceRequest{ActivityID: "A2"}, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "client flag alone is not trusted", activity: "A1", body: dto.MarkAttendanceRequest{OnTrustedNetwork: true}, status: http.StatusBadRequest, code: "location_required"},
		{name: "trusted network needs no location", activity: "A1", remoteAddr: "10.1.2.3:5555", status: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withBearer(jsonRequest(t, http.MethodPost, "/v1/attendance", tt.body), f.scoped(t, "U1", tt.activity))
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			w := f.do(req)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, w))
			}
		})
	}
}

func TestMarkAttendanceRequiresScopedCredential(t *testing.T) {
	f := newFixture(t)

	req := jsonRequest(t, http.MethodPost, "/v1/attendance", dto.MarkAttendanceRequest{ActivityID: "A1"})
	w := f.do(withBearer(req, f.session(t, "U1")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.attendance.records)
}

func TestIdentifyDisabledByDefault(t *testing.T) {
	f := newFixture(t)

	w := f.do(multipartRequest(t, "/v1/face/identify", nil, "u1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorCode(t, w))
}

func TestTrainEnrollsSessionHolder(t *testing.T) {
	f := newFixture(t)

	req := multipartRequest(t, "/v1/face/train", nil, "u3", "wall")
	w := f.do(withBearer(req, f.session(t, "U3")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.EnrollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.EnrollResponse{IdentityID: "U3", Accepted: 1, Rejected: 1, Descriptors: 1}, resp)

	verify := multipartRequest(t, "/v1/face/verify", map[string]string{"activity_id": "A1"}, "u3")
	w = f.do(withBearer(verify, f.session(t, "U3")))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/v1/identities/U2/gallery", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := multipartRequest(t, "/v1/identities/U2/faces", nil, "u2a", "wall")
	req.Header.Set("X-API-Key", testAPIKey)
	w = f.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/identities/U2/gallery", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var count dto.GalleryCountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.Equal(t, 2, count.Descriptors)

	req = multipartRequest(t, "/v1/identities/U2/faces", nil, "wall")
	req.Header.Set("X-API-Key", testAPIKey)
	w = f.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req = multipartRequest(t, "/v1/identities/U9/faces", nil, "u1")
	req.Header.Set("X-API-Key", testAPIKey)
	w = f.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = multipartRequest(t, "/v1/identities/U2/faces", nil, "u2", "u2", "u2", "u2")
	req.Header.Set("X-API-Key", testAPIKey)
	w = f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueEnrollment(t *testing.T) {
	f := newFixture(t)

	req := multipartRequest(t, "/v1/enrollments", map[string]string{"identity_id": "U3"}, "u3", "u3")
	req.Header.Set("X-API-Key", testAPIKey)
	w := f.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, f.tasks.tasks, 1)
	task := f.tasks.tasks[0]
	assert.Equal(t, "U3", task.IdentityID)
	assert.Len(t, task.ObjectKeys, 2)
	for _, key := range task.ObjectKeys {
		assert.Contains(t, f.objects.objects, key)
	}
}

func TestQueueEnrollmentPurgesOnPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.tasks.err = errors.New("nats: no responders")

	req := multipartRequest(t, "/v1/enrollments", map[string]string{"identity_id": "U3"}, "u3")
	req.Header.Set("X-API-Key", testAPIKey)
	w := f.do(req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "nats")
	assert.Len(t, f.objects.purged, 1)
	assert.Empty(t, f.objects.objects)
}

func TestQueueEnrollmentValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		fields map[string]string
		images []string
		status int
	}{
		{name: "missing identity", images: []string{"u1"}, status: http.StatusBadRequest},
		{name: "unknown identity", fields: map[string]string{"identity_id": "U9"}, images: []string{"u1"}, status: http.StatusNotFound},
		{name: "no images", fields: map[string]string{"identity_id": "U1"}, status: http.StatusBadRequest},
		{name: "too many images", fields: map[string]string{"identity_id": "U1"}, images: []string{"a", "b", "c", "d"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/v1/enrollments", tt.fields, tt.images...)
			req.Header.Set("X-API-Key", testAPIKey)
			w := f.do(req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.tasks.tasks)
	assert.Empty(t, f.objects.objects)
}
