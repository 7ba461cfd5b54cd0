package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/barriomed/clinic/internal/auth"
	"github.com/barriomed/clinic/internal/db"
	"github.com/barriomed/clinic/internal/imaging"
	"github.com/barriomed/clinic/internal/inventory"
	"github.com/barriomed/clinic/internal/login"
	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
	"github.com/barriomed/clinic/internal/seed"
	"github.com/barriomed/clinic/internal/store"
	"github.com/barriomed/clinic/internal/verify"
)

const testJWTSecret = "test-secret"

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = code
	return nil
}

func (s *captureSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type testEnv struct {
	server *httptest.Server
	db     *sql.DB
	sender *captureSender
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)

	data, err := seed.Default(time.Now())
	if err != nil {
		t.Fatalf("loading seed: %v", err)
	}
	commander, err := queue.NewCommander(data.Patients)
	if err != nil {
		t.Fatalf("creating commander: %v", err)
	}
	master, err := inventory.NewMaster(data.Medicines, inventory.WithRecorder(&store.StockLog{DB: database}))
	if err != nil {
		t.Fatalf("creating master: %v", err)
	}

	sender := &captureSender{codes: map[string]string{}}
	router := NewRouter(Deps{
		DB:          database,
		JWTSecret:   testJWTSecret,
		Commander:   commander,
		Master:      master,
		Requesters:  queue.NewRequesters(queue.NewTicketBook(data.TicketBook)),
		Verifier:    verify.NewOTP(database, sender, 0),
		StepTimeout: 5 * time.Second,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, db: database, sender: sender}
}

func tokenFor(t *testing.T, id int64, role model.Role) string {
	t.Helper()
	token, err := auth.GenerateToken(testJWTSecret, id, fmt.Sprintf("91700000%02d", id), role)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// call sends a JSON request and decodes the response into out when out is
// non-nil. It returns the status code.
func (e *testEnv) call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type flowBody struct {
	ID          string `json:"id"`
	Step        string `json:"step"`
	Role        string `json:"role"`
	MaskedPhone string `json:"masked_phone"`
}

// grant gives phone a role the way an admin does.
func (e *testEnv) grant(t *testing.T, phone string, role model.Role) {
	t.Helper()
	if _, err := store.GrantRole(context.Background(), e.db, phone, role); err != nil {
		t.Fatalf("granting %s to %s: %v", role, phone, err)
	}
}

// login walks a device through the login flow up to the PIN step, submits
// pin and decodes the PIN response into out. It returns the PIN status.
func (e *testEnv) login(t *testing.T, device, phone string, role model.Role, pin string, out any) int {
	t.Helper()

	var flow flowBody
	if status := e.call(t, "POST", "/api/login/flows", "", map[string]string{"device_id": device}, &flow); status != http.StatusCreated {
		t.Fatalf("start flow: expected 201, got %d", status)
	}
	base := "/api/login/flows/" + flow.ID

	if flow.Step == string(login.StepRole) {
		if status := e.call(t, "POST", base+"/role", "", map[string]string{"role": string(role)}, &flow); status != http.StatusOK {
			t.Fatalf("role: expected 200, got %d", status)
		}
	}
	if flow.Step != string(login.StepPhone) {
		t.Fatalf("expected phone step, got %q", flow.Step)
	}

	if status := e.call(t, "POST", base+"/phone", "", map[string]string{"phone": phone}, &flow); status != http.StatusOK {
		t.Fatalf("phone: expected 200, got %d", status)
	}
	if flow.Step != string(login.StepOTP) {
		t.Fatalf("expected otp step, got %q", flow.Step)
	}

	code := e.sender.code(phone)
	if status := e.call(t, "POST", base+"/otp", "", map[string]string{"code": code}, &flow); status != http.StatusOK {
		t.Fatalf("otp: expected 200, got %d", status)
	}

	return e.call(t, "POST", base+"/pin", "", map[string]string{"pin": pin, "confirm_pin": pin}, out)
}

// enroll runs the full login flow and returns the session token.
func (e *testEnv) enroll(t *testing.T, device, phone string, role model.Role, pin string) string {
	t.Helper()

	var tok tokenResponse
	if status := e.login(t, device, phone, role, pin, &tok); status != http.StatusOK {
		t.Fatalf("pin: expected 200, got %d", status)
	}
	if tok.Token == "" || tok.Role != role {
		t.Fatalf("unexpected token response: %+v", tok)
	}
	return tok.Token
}

func TestLoginFlowEndToEnd(t *testing.T) {
	e := setupTestServer(t)
	e.grant(t, "9123456789", model.RoleStaff)

	token := e.enroll(t, "tablet-1", "9123456789", model.RoleStaff, "1234")

	if status := e.call(t, "GET", "/api/staff/queue", token, nil, nil); status != http.StatusOK {
		t.Errorf("expected 200 for staff queue, got %d", status)
	}

	// The device remembers the role, so the next flow starts at the phone step.
	var flow flowBody
	e.call(t, "POST", "/api/login/flows", "", map[string]string{"device_id": "tablet-1"}, &flow)
	if flow.Step != string(login.StepPhone) || flow.Role != string(model.RoleStaff) {
		t.Errorf("expected cached staff role at phone step, got %+v", flow)
	}

	// Other devices start from scratch.
	e.call(t, "POST", "/api/login/flows", "", map[string]string{"device_id": "tablet-2"}, &flow)
	if flow.Step != string(login.StepRole) {
		t.Errorf("expected role step on a new device, got %q", flow.Step)
	}
}

func TestLoginFlowRequiresDevice(t *testing.T) {
	e := setupTestServer(t)

	for _, device := range []string{"", "   "} {
		if status := e.call(t, "POST", "/api/login/flows", "", map[string]string{"device_id": device}, nil); status != http.StatusBadRequest {
			t.Errorf("expected 400 for device %q, got %d", device, status)
		}
	}
}

func TestLoginRefusesSelfSelectedRoles(t *testing.T) {
	e := setupTestServer(t)
	e.grant(t, "9123456789", model.RoleStaff)
	if err := (verify.PINEnroller{DB: e.db}).Enroll(context.Background(), "9123456789", model.RoleStaff, "1234"); err != nil {
		t.Fatalf("enrolling staff: %v", err)
	}

	// A new number cannot pick an elevated role. Each attempt uses its own
	// number because codes to one number are throttled.
	var errBody map[string]string
	for i, role := range []model.Role{model.RoleStaff, model.RoleDoctor, model.RoleAdmin} {
		status := e.login(t, "stranger-"+string(role), fmt.Sprintf("917111220%d", i), role, "0000", &errBody)
		if status != http.StatusForbidden {
			t.Errorf("expected 403 enrolling a new number as %s, got %d", role, status)
		}
	}
	if errBody["error"] != login.ErrRoleNotGranted.Error() {
		t.Errorf("unexpected error %q", errBody["error"])
	}

	// Passing OTP for an enrolled number does not change its role or PIN.
	if status := e.login(t, "stranger-2", "9123456789", model.RoleAdmin, "0000", nil); status != http.StatusForbidden {
		t.Errorf("expected 403 re-enrolling staff number as admin, got %d", status)
	}
	var tok tokenResponse
	if status := e.call(t, "POST", "/api/auth/pin", "", map[string]string{"phone": "9123456789", "pin": "1234"}, &tok); status != http.StatusOK {
		t.Fatalf("expected original PIN to still work, got %d", status)
	}
	if tok.Role != model.RoleStaff {
		t.Errorf("expected staff role to be kept, got %s", tok.Role)
	}

	// The refused role is not cached on the device.
	var flow flowBody
	e.call(t, "POST", "/api/login/flows", "", map[string]string{"device_id": "stranger-admin"}, &flow)
	if flow.Step != string(login.StepRole) {
		t.Errorf("expected refused role not to be cached, got step %q", flow.Step)
	}

	// Self-enrolled patients have no access to admin routes.
	patient := e.enroll(t, "stranger-3", "9171112299", model.RolePatient, "0000")
	if status := e.call(t, "DELETE", "/api/admin/accounts/1", patient, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 on admin route, got %d", status)
	}
	if status := e.call(t, "POST", "/api/admin/accounts", patient, map[string]string{"phone": "9171112299", "role": "admin"}, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 granting a role as patient, got %d", status)
	}
	if account, _ := store.GetAccount(context.Background(), e.db, 1); account == nil || account.DeletedAt != nil {
		t.Error("expected staff account to be untouched")
	}
}

func TestAdminGrantsRole(t *testing.T) {
	e := setupTestServer(t)
	e.grant(t, "9170000099", model.RoleAdmin)
	admin := e.enroll(t, "admin-phone", "9170000099", model.RoleAdmin, "9999")

	var account model.Account
	status := e.call(t, "POST", "/api/admin/accounts", admin, map[string]string{"phone": "918 555 0001", "role": "doctor"}, &account)
	if status != http.StatusOK || account.Phone != "9185550001" || account.Role != model.RoleDoctor {
		t.Fatalf("unexpected grant result: %d %+v", status, account)
	}

	// The granted number sets its PIN through the login flow.
	doctor := e.enroll(t, "clinic-tablet", "9185550001", model.RoleDoctor, "2468")
	if status := e.call(t, "GET", "/api/staff/inventory", doctor, nil, nil); status != http.StatusOK {
		t.Errorf("expected doctor to reach staff routes, got %d", status)
	}

	// Promoting an existing patient keeps their PIN.
	e.enroll(t, "patient-phone", "9186660002", model.RolePatient, "1357")
	e.call(t, "POST", "/api/admin/accounts", admin, map[string]string{"phone": "9186660002", "role": "staff"}, &account)
	var tok tokenResponse
	if status := e.call(t, "POST", "/api/auth/pin", "", map[string]string{"phone": "9186660002", "pin": "1357"}, &tok); status != http.StatusOK || tok.Role != model.RoleStaff {
		t.Errorf("expected promoted staff login, got %d %+v", status, tok)
	}

	if status := e.call(t, "POST", "/api/admin/accounts", admin, map[string]string{"phone": "9186660002", "role": "janitor"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", status)
	}
	if status := e.call(t, "POST", "/api/admin/accounts", admin, map[string]string{"phone": "9170000099", "role": "patient"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 demoting yourself, got %d", status)
	}
}

func TestLoginFlowErrors(t *testing.T) {
	e := setupTestServer(t)

	var flow flowBody
	e.call(t, "POST", "/api/login/flows", "", map[string]string{"device_id": "d"}, &flow)
	base := "/api/login/flows/" + flow.ID

	var errBody map[string]string
	if status := e.call(t, "POST", base+"/role", "", map[string]string{"role": "janitor"}, &errBody); status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", status)
	}
	if status := e.call(t, "POST", base+"/phone", "", map[string]string{"phone": "9123456789"}, nil); status != http.StatusConflict {
		t.Errorf("expected 409 for phone before role, got %d", status)
	}

	e.call(t, "POST", base+"/role", "", map[string]string{"role": "patient"}, &flow)
	if status := e.call(t, "POST", base+"/phone", "", map[string]string{"phone": "912"}, &errBody); status != http.StatusBadRequest {
		t.Errorf("expected 400 for short phone, got %d", status)
	}
	if errBody["error"] != "phone: please enter a valid mobile number" {
		t.Errorf("unexpected error message %q", errBody["error"])
	}

	if status := e.call(t, "POST", base+"/phone", "", map[string]string{"phone": "9123456789"}, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for phone, got %d", status)
	}
	if status := e.call(t, "POST", base+"/otp/resend", "", nil, nil); status != http.StatusTooManyRequests {
		t.Errorf("expected 429 for immediate resend, got %d", status)
	}

	wrong := "000000"
	if e.sender.code("9123456789") == wrong {
		wrong = "111111"
	}
	if status := e.call(t, "POST", base+"/otp", "", map[string]string{"code": wrong}, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong code, got %d", status)
	}

	if status := e.call(t, "POST", base+"/back", "", nil, &flow); status != http.StatusOK || flow.Step != "phone" {
		t.Errorf("expected back to phone step, got %d %q", status, flow.Step)
	}

	if status := e.call(t, "GET", "/api/login/flows/nope", "", nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown flow, got %d", status)
	}
}

func TestPINLoginAndLogout(t *testing.T) {
	e := setupTestServer(t)
	e.enroll(t, "phone-a", "9171234567", model.RolePatient, "4321")

	var tok tokenResponse
	status := e.call(t, "POST", "/api/auth/pin", "", map[string]string{"phone": "917 123 4567", "pin": "4321"}, &tok)
	if status != http.StatusOK || tok.Token == "" {
		t.Fatalf("expected PIN login to succeed, got %d", status)
	}

	if status := e.call(t, "POST", "/api/auth/pin", "", map[string]string{"phone": "9171234567", "pin": "0000"}, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong PIN, got %d", status)
	}

	if status := e.call(t, "GET", "/api/services", tok.Token, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", status)
	}
	if status := e.call(t, "POST", "/api/auth/logout", tok.Token, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for logout, got %d", status)
	}
	if status := e.call(t, "GET", "/api/services", tok.Token, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", status)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	e := setupTestServer(t)

	for _, path := range []string{"/api/services", "/api/staff/queue", "/api/staff/inventory"} {
		if status := e.call(t, "GET", path, "", nil, nil); status != http.StatusUnauthorized {
			t.Errorf("expected 401 for %s, got %d", path, status)
		}
	}
	if status := e.call(t, "GET", "/api/services", "garbage", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", status)
	}
}

func TestRoleBasedAccess(t *testing.T) {
	e := setupTestServer(t)
	patient := tokenFor(t, 1, model.RolePatient)
	doctor := tokenFor(t, 2, model.RoleDoctor)

	if status := e.call(t, "POST", "/api/staff/queue/call-next", patient, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for patient calling next, got %d", status)
	}
	if status := e.call(t, "GET", "/api/staff/inventory", patient, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for patient inventory, got %d", status)
	}
	if status := e.call(t, "GET", "/api/staff/inventory", doctor, nil, nil); status != http.StatusOK {
		t.Errorf("expected 200 for doctor inventory, got %d", status)
	}
	if status := e.call(t, "GET", "/api/admin/accounts/1", doctor, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for doctor on admin route, got %d", status)
	}
}

func TestStaffQueueAPI(t *testing.T) {
	e := setupTestServer(t)
	staff := tokenFor(t, 1, model.RoleStaff)

	var adv queue.Advance
	if status := e.call(t, "POST", "/api/staff/queue/no-show", staff, nil, &adv); status != http.StatusOK {
		t.Fatalf("expected 200 for no-show, got %d", status)
	}
	if adv.Missed == nil || adv.Missed.QueueNumber != 38 || adv.Serving == nil || adv.Serving.QueueNumber != 39 {
		t.Fatalf("unexpected no-show result: %+v", adv)
	}

	var view queue.View
	e.call(t, "GET", "/api/staff/queue", staff, nil, &view)
	if len(view.Missed) != 1 || view.Serving.QueueNumber != 39 || view.WaitingCount != 3 {
		t.Errorf("unexpected queue view: %+v", view)
	}

	var shown map[string]bool
	e.call(t, "POST", "/api/staff/queue/missed/toggle", staff, nil, &shown)
	if !shown["show_missed"] {
		t.Error("expected missed list to be shown")
	}

	var walkIn model.Patient
	status := e.call(t, "POST", "/api/staff/queue/walk-ins", staff, map[string]string{"name": "Lito Lapid", "service": "dental"}, &walkIn)
	if status != http.StatusCreated || walkIn.QueueNumber != 43 {
		t.Errorf("expected walk-in #43, got %d %+v", status, walkIn)
	}
	if status := e.call(t, "POST", "/api/staff/queue/walk-ins", staff, map[string]string{"name": "", "service": "dental"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for nameless walk-in, got %d", status)
	}

	if status := e.call(t, "POST", "/api/staff/queue/missed/1/recall", staff, nil, nil); status != http.StatusOK {
		t.Errorf("expected 200 for recall, got %d", status)
	}
	if status := e.call(t, "POST", "/api/staff/queue/missed/1/recall", staff, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for second recall, got %d", status)
	}

	// 40, 41, 42, 43 and the recalled 38 follow 39 in turn.
	for range 5 {
		if status := e.call(t, "POST", "/api/staff/queue/call-next", staff, nil, nil); status != http.StatusOK {
			t.Fatalf("expected 200 for call-next, got %d", status)
		}
	}
	var errBody map[string]string
	if status := e.call(t, "POST", "/api/staff/queue/complete", staff, nil, &errBody); status != http.StatusConflict {
		t.Errorf("expected 409 with only one patient left, got %d", status)
	}
	if errBody["error"] != queue.ErrNoNextPatient.Error() {
		t.Errorf("unexpected error %q", errBody["error"])
	}
}

func TestInventoryBatchAndLog(t *testing.T) {
	e := setupTestServer(t)
	staff := tokenFor(t, 1, model.RoleStaff)

	var sel selectionResponse
	if status := e.call(t, "POST", "/api/staff/inventory/selection/status", staff, map[string]string{"status": "low"}, nil); status != http.StatusConflict {
		t.Errorf("expected 409 for empty selection, got %d", status)
	}

	e.call(t, "POST", "/api/staff/inventory/selection/items/1", staff, nil, &sel)
	e.call(t, "POST", "/api/staff/inventory/selection/items/4", staff, nil, &sel)
	if sel.Count != 2 {
		t.Fatalf("expected 2 selected, got %+v", sel)
	}
	if status := e.call(t, "POST", "/api/staff/inventory/selection/items/99", staff, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 selecting unknown medicine, got %d", status)
	}

	var batch map[string]any
	if status := e.call(t, "POST", "/api/staff/inventory/selection/status", staff, map[string]string{"status": "low"}, &batch); status != http.StatusOK {
		t.Fatalf("expected 200 for batch, got %d", status)
	}
	if batch["changed"] != float64(2) {
		t.Errorf("expected 2 changed, got %v", batch["changed"])
	}

	e.call(t, "GET", "/api/staff/inventory/selection", staff, nil, &sel)
	if sel.Count != 0 {
		t.Errorf("expected empty selection after batch, got %+v", sel)
	}

	var med model.Medicine
	e.call(t, "GET", "/api/staff/inventory/1", staff, nil, &med)
	if med.Status != model.StockLow || med.LastUpdated != "just now" {
		t.Errorf("unexpected medicine after batch: %+v", med)
	}

	var changes []model.StockChange
	e.call(t, "GET", "/api/staff/inventory/log?limit=10", staff, nil, &changes)
	if len(changes) != 2 {
		t.Fatalf("expected 2 logged changes, got %d", len(changes))
	}
	if changes[0].ChangedBy != "9170000001" {
		t.Errorf("expected change attributed to caller, got %q", changes[0].ChangedBy)
	}

	e.call(t, "GET", "/api/staff/inventory/log?medicine_id=4", staff, nil, &changes)
	if len(changes) != 1 || changes[0].From != model.StockInStock {
		t.Errorf("unexpected log for medicine 4: %+v", changes)
	}
}

func TestInventoryEditing(t *testing.T) {
	e := setupTestServer(t)
	staff := tokenFor(t, 1, model.RoleStaff)

	var med model.Medicine
	status := e.call(t, "POST", "/api/staff/inventory", staff, map[string]string{"name": "Salbutamol", "dosage": "2mg Tablet", "category": "Respiratory"}, &med)
	if status != http.StatusCreated || med.ID == "" || med.Status != model.StockInStock {
		t.Fatalf("unexpected create result: %d %+v", status, med)
	}

	var list []model.Medicine
	e.call(t, "GET", "/api/staff/inventory", staff, nil, &list)
	if len(list) != 9 || list[0].ID != med.ID {
		t.Errorf("expected new medicine first of 9, got %d items", len(list))
	}

	var errBody map[string]string
	if status := e.call(t, "POST", "/api/staff/inventory", staff, map[string]string{"name": "X"}, &errBody); status != http.StatusBadRequest {
		t.Errorf("expected 400 without category, got %d", status)
	}
	if errBody["error"] != "please fill in name and category" {
		t.Errorf("unexpected error %q", errBody["error"])
	}

	status = e.call(t, "PUT", "/api/staff/inventory/"+med.ID, staff, map[string]string{"name": "Salbutamol", "dosage": "4mg Tablet", "category": "Respiratory"}, &med)
	if status != http.StatusOK || med.Dosage != "4mg Tablet" {
		t.Errorf("unexpected update result: %d %+v", status, med)
	}

	e.call(t, "POST", "/api/staff/inventory/"+med.ID+"/cycle", staff, nil, &med)
	if med.Status != model.StockLow {
		t.Errorf("expected cycle to low, got %s", med.Status)
	}
	e.call(t, "PUT", "/api/staff/inventory/"+med.ID+"/status", staff, map[string]string{"status": "out_of_stock"}, &med)
	if med.Status != model.StockOutOfStock {
		t.Errorf("expected out_of_stock, got %s", med.Status)
	}
	if status := e.call(t, "PUT", "/api/staff/inventory/"+med.ID+"/status", staff, map[string]string{"status": "plenty"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", status)
	}

	e.call(t, "GET", "/api/staff/inventory?q=respir", staff, nil, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 search hit, got %d", len(list))
	}

	var prompt map[string]string
	if status := e.call(t, "DELETE", "/api/staff/inventory/"+med.ID, staff, nil, &prompt); status != http.StatusConflict {
		t.Errorf("expected 409 without confirmation, got %d", status)
	}
	if prompt["prompt"] != "Are you sure you want to delete Salbutamol?" {
		t.Errorf("unexpected prompt %q", prompt["prompt"])
	}
	if status := e.call(t, "DELETE", "/api/staff/inventory/"+med.ID+"?confirm=true", staff, nil, nil); status != http.StatusNoContent {
		t.Errorf("expected 204 with confirmation, got %d", status)
	}
	if status := e.call(t, "GET", "/api/staff/inventory/"+med.ID, staff, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", status)
	}
}

func TestPatientTicketAPI(t *testing.T) {
	e := setupTestServer(t)
	patient := tokenFor(t, 7, model.RolePatient)

	var services []model.ServiceInfo
	e.call(t, "GET", "/api/services", patient, nil, &services)
	if len(services) != 4 {
		t.Errorf("expected 4 services, got %d", len(services))
	}

	if status := e.call(t, "POST", "/api/queue/ticket/confirm", patient, nil, nil); status != http.StatusConflict {
		t.Errorf("expected 409 confirming without a service, got %d", status)
	}
	if status := e.call(t, "POST", "/api/queue/ticket/service", patient, map[string]string{"service": "prenatal"}, nil); status != http.StatusOK {
		t.Fatalf("expected 200 selecting service, got %d", status)
	}

	var ticket model.Ticket
	if status := e.call(t, "POST", "/api/queue/ticket/confirm", patient, nil, &ticket); status != http.StatusCreated {
		t.Fatalf("expected 201 for ticket, got %d", status)
	}
	if ticket.QueueNumber != 45 || ticket.PeopleAhead != 7 || ticket.EstimatedWait != "30-40 mins" {
		t.Errorf("unexpected ticket: %+v", ticket)
	}

	var view queue.RequesterView
	e.call(t, "GET", "/api/queue/ticket", patient, nil, &view)
	if view.Step != queue.StepTicket || view.Ticket == nil {
		t.Errorf("expected ticket step, got %+v", view)
	}

	// Another account has its own requester.
	other := tokenFor(t, 8, model.RolePatient)
	e.call(t, "GET", "/api/queue/ticket", other, nil, &view)
	if view.Step != queue.StepSelection {
		t.Errorf("expected other account at selection, got %s", view.Step)
	}

	if status := e.call(t, "DELETE", "/api/queue/ticket", patient, nil, nil); status != http.StatusNoContent {
		t.Errorf("expected 204 cancelling, got %d", status)
	}
	if status := e.call(t, "DELETE", "/api/queue/ticket", patient, nil, nil); status != http.StatusConflict {
		t.Errorf("expected 409 cancelling twice, got %d", status)
	}

	var meds []model.Medicine
	e.call(t, "GET", "/api/medicines?q=maintenance", patient, nil, &meds)
	if len(meds) != 2 {
		t.Errorf("expected 2 maintenance medicines, got %d", len(meds))
	}
}

func TestMedicineImageAPI(t *testing.T) {
	e := setupTestServer(t)
	staff := tokenFor(t, 1, model.RoleStaff)

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{0, 128, 0, 255})
		}
	}
	var pngData bytes.Buffer
	png.Encode(&pngData, img)

	upload := func(id string, data []byte) int {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("image", "photo.png")
		fw.Write(data)
		mw.Close()

		req, _ := http.NewRequest("PUT", e.server.URL+"/api/staff/inventory/"+id+"/image", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+staff)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if status := e.call(t, "GET", "/api/staff/inventory/1/image", staff, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 before upload, got %d", status)
	}
	if status := upload("1", pngData.Bytes()); status != http.StatusOK {
		t.Fatalf("expected 200 for upload, got %d", status)
	}
	if status := upload("1", []byte("GIF89a not really")); status != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415 for GIF, got %d", status)
	}
	if status := upload("99", pngData.Bytes()); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown medicine, got %d", status)
	}

	req, _ := http.NewRequest("GET", e.server.URL+"/api/staff/inventory/1/image", nil)
	req.Header.Set("Authorization", "Bearer "+staff)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
	got, _, err := image.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decoding stored image: %v", err)
	}
	if b := got.Bounds(); b.Dx() != 30 || b.Dy() != 30 {
		t.Errorf("expected 30x30 card photo, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestAdminAccounts(t *testing.T) {
	e := setupTestServer(t)
	session := e.enroll(t, "d1", "9181112222", model.RolePatient, "1111")

	account, err := store.GetAccountByPhone(context.Background(), e.db, "9181112222")
	if err != nil || account == nil {
		t.Fatalf("expected enrolled account, got %v %v", account, err)
	}

	admin := tokenFor(t, 99, model.RoleAdmin)
	path := fmt.Sprintf("/api/admin/accounts/%d", account.ID)

	var got model.Account
	if status := e.call(t, "GET", path, admin, nil, &got); status != http.StatusOK || got.Phone != "9181112222" {
		t.Errorf("unexpected account: %d %+v", status, got)
	}

	self := tokenFor(t, account.ID, model.RoleAdmin)
	if status := e.call(t, "DELETE", path, self, nil, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 deleting yourself, got %d", status)
	}
	if status := e.call(t, "DELETE", path, admin, nil, nil); status != http.StatusOK {
		t.Errorf("expected 200 deleting account, got %d", status)
	}
	if status := e.call(t, "DELETE", path, admin, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", status)
	}
	if status := e.call(t, "POST", "/api/auth/pin", "", map[string]string{"phone": "9181112222", "pin": "1111"}, nil); status != http.StatusUnauthorized {
		t.Errorf("expected deleted account to be unable to log in, got %d", status)
	}

	// Sessions of the deleted account end with it.
	if status := e.call(t, "GET", "/api/services", session, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for deleted account's token, got %d", status)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.Invalid("name", "required"), http.StatusBadRequest},
		{inventory.ErrMedicineNotFound, http.StatusNotFound},
		{queue.ErrNotMissed, http.StatusNotFound},
		{queue.ErrNoNextPatient, http.StatusConflict},
		{queue.ErrNobodyServing, http.StatusConflict},
		{inventory.ErrNothingSelected, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", login.ErrWrongStep), http.StatusConflict},
		{login.ErrVerificationFailed, http.StatusUnauthorized},
		{login.ErrOTPExpired, http.StatusUnauthorized},
		{login.ErrTooManyRequests, http.StatusTooManyRequests},
		{fmt.Errorf("enrolling: %w", login.ErrRoleNotGranted), http.StatusForbidden},
		{fmt.Errorf("%w: slow", login.ErrStepTimeout), http.StatusGatewayTimeout},
		{imaging.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
