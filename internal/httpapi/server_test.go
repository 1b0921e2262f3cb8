package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gorillaws "github.com/gorilla/websocket"

	"github.com/opsbridge/msigbridge/internal/apierror"
	"github.com/opsbridge/msigbridge/internal/auth"
	"github.com/opsbridge/msigbridge/internal/coordinator"
	"github.com/opsbridge/msigbridge/internal/filestore"
	"github.com/opsbridge/msigbridge/internal/storage"
)

type testFixture struct {
	server    *httptest.Server
	rootPriv  ed25519.PrivateKey
	cosigners []storage.Cosigner
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store, err := storage.New(&storage.Config{AppDir: t.TempDir(), PoolSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cosigners, err := storage.SeedFirstStart(ctx, tx, storage.ConfigRow{ThresholdColored: 2, ThresholdVanilla: 2}, []string{"xpub0", "xpub1", "xpub2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	coord := coordinator.New(coordinator.Config{
		Store:            store,
		Files:            files,
		Cosigners:        cosigners,
		ThresholdColored: 2,
		ThresholdVanilla: 2,
	})

	rootPub, rootPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	xpubToIdx := map[string]int{}
	for _, c := range cosigners {
		xpubToIdx[c.Xpub] = c.Idx
	}
	resolver := auth.NewResolver(rootPub, xpubToIdx)

	srv := New(Config{
		Coordinator: coord,
		Resolver:    resolver,
		Versions:    VersionInfo{Min: "0.1.0", Max: "0.3.0", Current: "0.2.0"},
	})

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return &testFixture{server: ts, rootPriv: rootPriv, cosigners: cosigners}
}

func (f *testFixture) token(t *testing.T, role auth.Role, xpub string) string {
	t.Helper()
	tok, err := auth.MintToken(auth.Claims{Role: role, Xpub: xpub}, f.rootPriv)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *testFixture) do(t *testing.T, method, path, bearer, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func buildMultipart(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		part, err := mw.CreateFormFile(name, name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestInfoRequiresAuthentication(t *testing.T) {
	f := newTestFixture(t)
	resp := f.do(t, http.MethodGet, "/info", "", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestInfoWithCosignerToken(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")
	resp := f.do(t, http.MethodGet, "/info", tok, "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var info infoResponseDTO
	decodeBody(t, resp, &info)
	if info.RgbLibVersion != "0.2.0" {
		t.Errorf("rgb_lib_version = %s, want 0.2.0", info.RgbLibVersion)
	}
	if info.LastOperationIdx != nil {
		t.Errorf("expected nil last_operation_idx on empty daemon")
	}
}

func TestWatchOnlyCannotBumpAddressIndices(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleWatchOnly, "")
	body, _ := json.Marshal(bumpAddressIndicesRequestDTO{Count: 1, Internal: true})
	resp := f.do(t, http.MethodPost, "/bumpaddressindices", tok, "application/json", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestBumpAndGetCurrentAddressIndices(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")

	body, _ := json.Marshal(bumpAddressIndicesRequestDTO{Count: 5, Internal: true})
	resp := f.do(t, http.MethodPost, "/bumpaddressindices", tok, "application/json", body)
	var bumped bumpAddressIndicesResponseDTO
	decodeBody(t, resp, &bumped)
	if bumped.First != 0 {
		t.Fatalf("expected first=0, got %d", bumped.First)
	}

	resp = f.do(t, http.MethodGet, "/getcurrentaddressindices", tok, "", nil)
	var current currentAddressIndicesDTO
	decodeBody(t, resp, &current)
	if current.Internal == nil || *current.Internal != 4 {
		t.Fatalf("expected internal=4, got %v", current.Internal)
	}
	if current.External != nil {
		t.Fatalf("expected nil external, got %v", current.External)
	}
}

func TestPostOperationRejectsUnknownFileField(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")

	buf, ct := buildMultipart(t, map[string]string{"operation_type": string([]byte{byte(storage.OpSendRgb)})}, map[string][]byte{"file_invalid": []byte("x")})
	resp := f.do(t, http.MethodPost, "/postoperation", tok, ct, buf.Bytes())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var apiErr apierror.Response
	decodeBody(t, resp, &apiErr)
	if apiErr.Error != "invalid request: invalid file type 'file_invalid'" {
		t.Fatalf("unexpected error message: %q", apiErr.Error)
	}
}

func TestPostOperationRejectsUnexpectedNonFileField(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")

	buf, ct := buildMultipart(t, map[string]string{
		"operation_type": string([]byte{byte(storage.OpSendRgb)}),
		"bogus_field":    "x",
	}, map[string][]byte{"file_psbt": []byte("psbt")})
	resp := f.do(t, http.MethodPost, "/postoperation", tok, ct, buf.Bytes())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var apiErr apierror.Response
	decodeBody(t, resp, &apiErr)
	if apiErr.Error != "invalid request: unexpected field 'bogus_field'" {
		t.Fatalf("unexpected error message: %q", apiErr.Error)
	}
}

func TestPostOperationRejectsTwoPsbtParts(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("operation_type", string([]byte{byte(storage.OpSendRgb)}))
	p1, _ := mw.CreateFormFile("file_psbt", "file_psbt")
	p1.Write([]byte("psbt-a"))
	p2, _ := mw.CreateFormFile("file_psbt", "file_psbt")
	p2.Write([]byte("psbt-b"))
	mw.Close()

	resp := f.do(t, http.MethodPost, "/postoperation", tok, mw.FormDataContentType(), buf.Bytes())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPostOperationAndRespondToApproval(t *testing.T) {
	f := newTestFixture(t)
	tok0 := f.token(t, auth.RoleCosigner, "xpub0")
	tok1 := f.token(t, auth.RoleCosigner, "xpub1")

	buf, ct := buildMultipart(t, map[string]string{"operation_type": string([]byte{byte(storage.OpSendRgb)})}, map[string][]byte{"file_psbt": []byte("psbt-initial")})
	resp := f.do(t, http.MethodPost, "/postoperation", tok0, ct, buf.Bytes())
	var posted postOperationResponseDTO
	decodeBody(t, resp, &posted)
	if posted.OperationIdx != 1 {
		t.Fatalf("expected operation_idx=1, got %d", posted.OperationIdx)
	}

	reqJSON, _ := json.Marshal(respondToOperationRequestDTO{OperationIdx: posted.OperationIdx, Ack: true})
	var rbuf bytes.Buffer
	mw := multipart.NewWriter(&rbuf)
	mw.WriteField("request", string(reqJSON))
	part, _ := mw.CreateFormFile("file_psbt", "file_psbt")
	part.Write([]byte("psbt-r1"))
	mw.Close()

	resp = f.do(t, http.MethodPost, "/respondtooperation", tok1, mw.FormDataContentType(), rbuf.Bytes())
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var view operationResponseDTO
	decodeBody(t, resp, &view)
	if view.Status != "Approved" {
		t.Fatalf("expected Approved, got %s", view.Status)
	}
	// Both OpFile rows are listed under the initiator, then the responder's
	// PSBT is listed again under its own xpub.
	if len(view.Files) != 3 {
		t.Fatalf("expected 3 files (both PSBT rows plus the responder's PSBT again), got %d", len(view.Files))
	}
}

func TestGetOperationByIdxMissingReturnsNull(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")

	body, _ := json.Marshal(getOperationByIdxRequestDTO{OperationIdx: 999})
	resp := f.do(t, http.MethodPost, "/getoperationbyidx", tok, "application/json", body)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if string(bytes.TrimSpace(raw)) != "null" {
		t.Fatalf("expected null body, got %s", raw)
	}
}

func TestGetFileNotFound(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleCosigner, "xpub0")

	body, _ := json.Marshal(getFileRequestDTO{FileID: "deadbeef"})
	resp := f.do(t, http.MethodPost, "/getfile", tok, "application/json", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWatchOnlyCanReadInfoButNotRespond(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleWatchOnly, "")

	resp := f.do(t, http.MethodGet, "/info", tok, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for watch-only /info, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	reqJSON, _ := json.Marshal(respondToOperationRequestDTO{OperationIdx: 1, Ack: false})
	var rbuf bytes.Buffer
	mw := multipart.NewWriter(&rbuf)
	mw.WriteField("request", string(reqJSON))
	mw.Close()
	resp = f.do(t, http.MethodPost, "/respondtooperation", tok, mw.FormDataContentType(), rbuf.Bytes())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

// TestWSOperationsUpgrade guards against the request-log middleware's
// wrapping writer breaking gorilla/websocket's http.Hijacker type assertion,
// and confirms watch-only tokens can reach the feed per §6's "any" auth
// column for /ws/operations.
func TestWSOperationsUpgrade(t *testing.T) {
	f := newTestFixture(t)
	tok := f.token(t, auth.RoleWatchOnly, "")

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/operations"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)

	conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
}

func TestWSOperationsUpgradeRejectsMissingCredentials(t *testing.T) {
	f := newTestFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/operations"
	conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected dial to fail without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 401, got %d", status)
	}
}
