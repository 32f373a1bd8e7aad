package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/logger"
	"github.com/samcharles93/cubetile/internal/platform"
)

const matmulBody = `{"name":"proj","op_type":"MatMul","a":{"shape":[1024,512]},"b":{"shape":[512,256]},"trans_b":true}`

func newTestServer() *Server {
	return NewServer(Config{
		Tiler:           cubetiling.NewTiler(),
		Platforms:       platform.NewRegistry(),
		DefaultPlatform: "reference",
		MaxBatch:        4,
	})
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Use(RequestID(logger.Nop()))
	e.Use(ServerHeader())
	newTestServer().Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) ResponseError {
	t.Helper()
	return decodeBody[struct {
		Error ResponseError `json:"error"`
	}](t, rec).Error
}

func TestCreateGetDeleteTiling(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/tilings", matmulBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing request id header")
	}
	if !strings.HasPrefix(rec.Header().Get("Server"), "cubetile/") {
		t.Fatalf("server header: %q", rec.Header().Get("Server"))
	}
	created := decodeBody[TilingResponse](t, rec)
	if !strings.HasPrefix(created.ID, "tiling_") || created.Object != "tiling" {
		t.Fatalf("unexpected id/object: %q %q", created.ID, created.Object)
	}
	if created.Label != "proj" || created.OpType != cubetiling.OpMatMul || created.Platform != "reference" {
		t.Fatalf("unexpected header fields: %+v", created)
	}
	if !created.Tiling.IsValid() {
		t.Fatalf("tiling invalid: %v", created.Tiling.Validate())
	}
	if len(created.Record) != cubetiling.ABIFieldCount {
		t.Fatalf("record length: got %d want %d", len(created.Record), cubetiling.ABIFieldCount)
	}
	var transB uint64 = 2
	for _, f := range created.IDFields {
		if f.Name == "trans_b" {
			transB = f.Value
		}
	}
	if transB != 1 {
		t.Fatalf("trans_b id field: got %d want 1", transB)
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/tilings/"+created.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d", getRec.Code)
	}
	if got := decodeBody[TilingResponse](t, getRec); got.Tiling.TilingID != created.Tiling.TilingID {
		t.Fatalf("get tiling id: got %d want %d", got.Tiling.TilingID, created.Tiling.TilingID)
	}

	if delRec := doJSON(t, e, http.MethodDelete, "/v1/tilings/"+created.ID, ""); delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", delRec.Code)
	}
	if again := doJSON(t, e, http.MethodGet, "/v1/tilings/"+created.ID, ""); again.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d want 404", again.Code)
	}
	if again := doJSON(t, e, http.MethodDelete, "/v1/tilings/"+created.ID, ""); again.Code != http.StatusNotFound {
		t.Fatalf("second delete: got %d want 404", again.Code)
	}
}

func TestCreateTilingErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"op_type":`, http.StatusBadRequest, ""},
		{"unknown field", `{"op_type":"MatMul","shapes":[]}`, http.StatusBadRequest, ""},
		{"unknown op", `{"op_type":"Pooling","a":{"shape":[4,4]},"b":{"shape":[4,4]}}`, http.StatusBadRequest, ""},
		{"unknown platform", `{"op_type":"MatMul","platform":"tpu","a":{"shape":[4,4]},"b":{"shape":[4,4]}}`, http.StatusBadRequest, "unknown_platform"},
		{"k mismatch", `{"op_type":"MatMul","a":{"shape":[16,32]},"b":{"shape":[16,16]}}`, http.StatusBadRequest, ""},
		{
			"no room in l0c",
			`{"op_type":"MatMul","platform_info":{"soc_version":"tiny","core_num":2,"l0a_size":65536,"l0b_size":65536,"l0c_size":512,"l1_size":524288,"ub_size":262144},"a":{"shape":[64,64]},"b":{"shape":[64,64]}}`,
			http.StatusUnprocessableEntity,
			"l0",
		},
	}

	e := newTestEcho()
	for _, tc := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/tilings", tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: status got %d want %d body=%s", tc.name, rec.Code, tc.status, rec.Body.String())
		}
		got := errorOf(t, rec)
		if got.Message == "" {
			t.Fatalf("%s: empty error message", tc.name)
		}
		if tc.code != "" && got.Code != tc.code {
			t.Fatalf("%s: code got %q want %q", tc.name, got.Code, tc.code)
		}
	}
}

func TestBatchTilings(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	body := `{"parallelism":2,"descriptors":[
		` + matmulBody + `,
		{"op_type":"Conv2D","a":{"shape":[1,16,28,28]},"b":{"shape":[32,16,3,3]},"pads":[1]},
		{"op_type":"MatMul","platform":"tpu","a":{"shape":[4,4]},"b":{"shape":[4,4]}}
	]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/tilings/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decodeBody[BatchResponse](t, rec)
	if len(got.Items) != 3 {
		t.Fatalf("items: got %d want 3", len(got.Items))
	}
	for i, it := range got.Items {
		if it.Index != i {
			t.Fatalf("item %d reports index %d", i, it.Index)
		}
	}
	if got.Items[0].Tiling == nil || got.Items[0].Label != "proj" {
		t.Fatalf("first item: %+v", got.Items[0])
	}
	if got.Items[1].Tiling == nil || got.Items[1].Tiling.OpType != cubetiling.OpConv2D {
		t.Fatalf("second item: %+v", got.Items[1])
	}
	if got.Items[2].Error == nil || got.Items[2].Error.Code != "unknown_platform" {
		t.Fatalf("third item: %+v", got.Items[2])
	}
	if got.Summary.Total != 3 || got.Summary.Succeeded != 2 || got.Summary.Failed != 1 || got.Summary.ByStage["params"] != 1 {
		t.Fatalf("summary: %+v", got.Summary)
	}

	stored := doJSON(t, e, http.MethodGet, "/v1/tilings/"+got.Items[1].Tiling.ID, "")
	if stored.Code != http.StatusOK {
		t.Fatalf("batch tiling not stored: %d", stored.Code)
	}
}

func TestBatchLimits(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	if rec := doJSON(t, e, http.MethodPost, "/v1/tilings/batch", `{"descriptors":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: got %d", rec.Code)
	}
	var b bytes.Buffer
	b.WriteString(`{"descriptors":[`)
	for i := range 5 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(matmulBody)
	}
	b.WriteString(`]}`)
	rec := doJSON(t, e, http.MethodPost, "/v1/tilings/batch", b.String())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized batch: got %d", rec.Code)
	}
	if got := errorOf(t, rec); got.Param != "descriptors" {
		t.Fatalf("oversized batch param: got %q", got.Param)
	}
}

func TestDecodeTilingIDEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/tiling_ids/decode", `{"op_type":"Conv2D","tiling_id":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("decode status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decodeBody[DecodeIDResponse](t, rec)
	if len(got.Fields) == 0 || got.Fields[0].Name != "binary_mode" || got.Fields[0].Value != 1 {
		t.Fatalf("fields: %+v", got.Fields)
	}

	if rec := doJSON(t, e, http.MethodPost, "/v1/tiling_ids/decode", `{"tiling_id":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing op: got %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/tiling_ids/decode", `{"op_type":"Einsum","tiling_id":1}`)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec).Code != "unknown_op_type" {
		t.Fatalf("unknown op: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCatalogEndpoints(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodGet, "/v1/platforms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("platforms status: got %d", rec.Code)
	}
	platforms := decodeBody[ListResponse[platform.Profile]](t, rec)
	if len(platforms.Data) != len(platform.Builtin()) {
		t.Fatalf("platforms: got %d want %d", len(platforms.Data), len(platform.Builtin()))
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/platforms/ASCEND910", ""); rec.Code != http.StatusOK {
		t.Fatalf("platform lookup: got %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/platforms/tpu", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing platform: got %d", rec.Code)
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/families", "")
	families := decodeBody[ListResponse[cubetiling.FamilyInfo]](t, rec)
	if len(families.Data) != len(cubetiling.OpTypes()) {
		t.Fatalf("families: got %d want %d", len(families.Data), len(cubetiling.OpTypes()))
	}

	rec = doJSON(t, e, http.MethodGet, "/healthz", "")
	if health := decodeBody[HealthResponse](t, rec); health.Status != "ok" || health.Version == "" {
		t.Fatalf("health: %+v", health)
	}
}

func TestStatsCountsCache(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	for range 2 {
		if rec := doJSON(t, e, http.MethodPost, "/v1/tilings", matmulBody); rec.Code != http.StatusOK {
			t.Fatalf("create: %d", rec.Code)
		}
	}
	got := decodeBody[statsResponse](t, doJSON(t, e, http.MethodGet, "/v1/stats", ""))
	if got.Stored != 2 || got.Tiler.Results.Hits != 1 {
		t.Fatalf("stats: %+v", got)
	}
}

func TestRequestIDKeepsClientValue(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("request id: got %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(RateLimit(0.001, 2))
	newTestServer().Register(e)
	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, doJSON(t, e, http.MethodGet, "/healthz", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes: got %v", codes)
	}
}

func TestTilingStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewTilingStore(2)
	a := s.Put(TilingResponse{Label: "a"})
	s.Put(TilingResponse{Label: "b"})
	c := s.Put(TilingResponse{Label: "c"})
	if _, ok := s.Get(a.ID); ok {
		t.Fatal("oldest tiling kept")
	}
	if got, ok := s.Get(c.ID); !ok || got.Label != "c" {
		t.Fatalf("newest tiling: %+v %v", got, ok)
	}
	if s.Len() != 2 {
		t.Fatalf("len: got %d want 2", s.Len())
	}
}
