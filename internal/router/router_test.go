package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"adstandard/internal/catalog"
	"adstandard/internal/config"
	"adstandard/internal/dispute"
	"adstandard/internal/lead"
	"adstandard/internal/order"
	"adstandard/internal/queue"
	"adstandard/internal/recommend"
	"adstandard/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "router-admin-key"

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	events := queue.NewRecorder(db)
	cat := catalog.Default()

	r := gin.New()
	Setup(r, Deps{
		DB:       db,
		Catalog:  cat,
		Leads:    lead.NewService(db),
		Ranker:   recommend.NewRanker(cat),
		Orders:   order.NewService(db, cat, events),
		Disputes: dispute.NewService(db, events, testAdminKey),
		Config: config.AppConfig{
			DBPath:          "test.db",
			AdminRatePerSec: 1000,
			AdminRateBurst:  1000,
		},
	})
	return r
}

func call(t *testing.T, r http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type orderView struct {
	OrderID         string `json:"orderId"`
	Status          string `json:"status"`
	ProductSnapshot struct {
		Code  string `json:"code"`
		Quote struct {
			StandardPrice int64 `json:"standardPrice"`
			Eligible      bool  `json:"eligible"`
		} `json:"quote"`
	} `json:"productSnapshot"`
	Evidence     []map[string]any `json:"evidence"`
	AdminVerdict *string          `json:"adminVerdict"`
}

func TestFullFlow(t *testing.T) {
	r := newEngine(t)

	code, env := call(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Code)

	code, env = call(t, r, http.MethodPost, "/leads", map[string]any{
		"anonUserId":       "anon-buyer",
		"industry":         "cafe",
		"goal":             "awareness",
		"platform":         "Instagram",
		"budget":           200000,
		"verifiedOnly":     true,
		"needFastDelivery": true,
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	ld := decode[struct {
		LeadID           string `json:"leadId"`
		OnlyWithinBudget bool   `json:"onlyWithinBudget"`
		Sort             string `json:"sort"`
	}](t, env)
	assert.True(t, ld.OnlyWithinBudget)
	assert.Equal(t, "recommended", ld.Sort)

	code, env = call(t, r, http.MethodGet, "/a/products?leadId="+ld.LeadID, nil)
	require.Equal(t, http.StatusOK, code)
	recs := decode[struct {
		LeadID string `json:"leadId"`
		Items  []struct {
			ID string `json:"id"`
		} `json:"items"`
	}](t, env)
	assert.Equal(t, ld.LeadID, recs.LeadID)
	assert.Len(t, recs.Items, 3)

	code, env = call(t, r, http.MethodPost, "/orders", map[string]any{
		"anonUserId": "anon-buyer",
		"leadId":     ld.LeadID,
		"productId":  "P001",
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	o := decode[orderView](t, env)
	assert.Equal(t, "created", o.Status)
	assert.Equal(t, "IG-RLS-1-V1", o.ProductSnapshot.Code)
	assert.EqualValues(t, 189750, o.ProductSnapshot.Quote.StandardPrice)
	assert.True(t, o.ProductSnapshot.Quote.Eligible)

	code, env = call(t, r, http.MethodPost, "/orders/"+o.OrderID+"/seller/evidence", map[string]any{
		"anonUserId": "anon-buyer",
		"evidence":   []map[string]any{{"url": "https://example.com/post/1"}},
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	o = decode[orderView](t, env)
	assert.Equal(t, "evidence_submitted", o.Status)
	assert.Len(t, o.Evidence, 1)

	code, env = call(t, r, http.MethodPost, "/orders/"+o.OrderID+"/buyer/review", map[string]any{
		"anonUserId": "anon-buyer",
		"verdict":    "issue",
		"issueText":  "post was deleted",
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	review := decode[struct {
		Order   orderView `json:"order"`
		Dispute struct {
			DisputeID string `json:"disputeId"`
			Status    string `json:"status"`
			Reason    string `json:"reason"`
		} `json:"dispute"`
	}](t, env)
	assert.Equal(t, "disputed", review.Order.Status)
	assert.Equal(t, "open", review.Dispute.Status)
	assert.Equal(t, "post was deleted", review.Dispute.Reason)
	disputeID := review.Dispute.DisputeID

	code, env = call(t, r, http.MethodGet, "/admin/disputes?processed=false&adminKey="+testAdminKey, nil)
	require.Equal(t, http.StatusOK, code)
	open := decode[[]struct {
		DisputeID string `json:"disputeId"`
	}](t, env)
	require.Len(t, open, 1)
	assert.Equal(t, disputeID, open[0].DisputeID)

	resolve := map[string]any{"adminKey": testAdminKey, "result": "refund_approved", "memo": "refunded"}
	code, env = call(t, r, http.MethodPost, "/admin/disputes/"+disputeID+"/resolve", resolve)
	require.Equal(t, http.StatusOK, code, env.Msg)
	resolved := decode[struct {
		Dispute struct {
			Status string `json:"status"`
		} `json:"dispute"`
		Resolution struct {
			Result string `json:"result"`
		} `json:"resolution"`
		Order orderView `json:"order"`
	}](t, env)
	assert.Equal(t, "resolved", resolved.Dispute.Status)
	assert.Equal(t, "refund_approved", resolved.Resolution.Result)
	assert.Equal(t, "refunded", resolved.Order.Status)

	code, env = call(t, r, http.MethodPost, "/admin/disputes/"+disputeID+"/resolve", resolve)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, http.StatusConflict, env.Code)

	code, env = call(t, r, http.MethodGet, "/orders/"+o.OrderID+"/events", nil)
	require.Equal(t, http.StatusOK, code)
	events := decode[[]struct {
		Type string `json:"type"`
	}](t, env)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{
		queue.EventOrderCreated,
		queue.EventOrderEvidenceSubmitted,
		queue.EventOrderDisputed,
		queue.EventDisputeResolved,
	}, types)

	code, _ = call(t, r, http.MethodPost, "/admin/dev/reset-db?adminKey="+testAdminKey, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, r, http.MethodGet, "/orders/"+o.OrderID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrors(t *testing.T) {
	r := newEngine(t)

	code, env := call(t, r, http.MethodPost, "/orders", map[string]any{"anonUserId": "anon-buyer", "productId": "P002"})
	require.Equal(t, http.StatusOK, code)
	o := decode[orderView](t, env)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"lead without budget", http.MethodPost, "/leads", map[string]any{"anonUserId": "anon-buyer"}, http.StatusBadRequest},
		{"lead negative budget", http.MethodPost, "/leads", map[string]any{"anonUserId": "anon-buyer", "budget": -1}, http.StatusBadRequest},
		{"lead short user", http.MethodPost, "/leads", map[string]any{"anonUserId": "ab", "budget": 1}, http.StatusBadRequest},
		{"missing lead", http.MethodGet, "/leads/L-missing", nil, http.StatusNotFound},
		{"recommend without leadId", http.MethodGet, "/a/products", nil, http.StatusBadRequest},
		{"recommend unknown lead", http.MethodGet, "/a/products?leadId=L-missing", nil, http.StatusNotFound},
		{"order without product", http.MethodPost, "/orders", map[string]any{"anonUserId": "anon-buyer"}, http.StatusBadRequest},
		{"missing order", http.MethodGet, "/orders/O-missing", nil, http.StatusNotFound},
		{"events of missing order", http.MethodGet, "/orders/O-missing/events", nil, http.StatusNotFound},
		{"evidence by stranger", http.MethodPost, "/orders/" + o.OrderID + "/seller/evidence", map[string]any{"anonUserId": "someone-else"}, http.StatusForbidden},
		{"unknown verdict", http.MethodPost, "/orders/" + o.OrderID + "/buyer/review", map[string]any{"anonUserId": "anon-buyer", "verdict": "meh"}, http.StatusBadRequest},
		{"list with bad key", http.MethodGet, "/admin/disputes?adminKey=nope", nil, http.StatusForbidden},
		{"list with bad filter", http.MethodGet, "/admin/disputes?processed=maybe&adminKey=" + testAdminKey, nil, http.StatusBadRequest},
		{"resolve with bad key", http.MethodPost, "/admin/disputes/D-x/resolve", map[string]any{"adminKey": "nope", "result": "rejected"}, http.StatusForbidden},
		{"resolve bad result", http.MethodPost, "/admin/disputes/D-x/resolve", map[string]any{"adminKey": testAdminKey, "result": "maybe"}, http.StatusBadRequest},
		{"resolve missing dispute", http.MethodPost, "/admin/disputes/D-x/resolve", map[string]any{"adminKey": testAdminKey, "result": "rejected"}, http.StatusNotFound},
		{"reset with bad key", http.MethodPost, "/admin/dev/reset-db?adminKey=nope", nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := call(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, code)
			assert.Equal(t, tc.want, env.Code)
			assert.NotEmpty(t, env.Msg)
		})
	}
}

func TestReview_ApproveCompletesAndLocksOrder(t *testing.T) {
	r := newEngine(t)

	code, env := call(t, r, http.MethodPost, "/orders", map[string]any{"anonUserId": "anon-buyer", "productId": "P003"})
	require.Equal(t, http.StatusOK, code)
	o := decode[orderView](t, env)

	code, env = call(t, r, http.MethodPost, "/orders/"+o.OrderID+"/buyer/review", map[string]any{"anonUserId": "anon-buyer", "verdict": "approve"})
	require.Equal(t, http.StatusOK, code)
	res := decode[struct {
		Order   orderView       `json:"order"`
		Dispute json.RawMessage `json:"dispute"`
	}](t, env)
	assert.Equal(t, "completed", res.Order.Status)
	assert.Empty(t, res.Dispute)

	code, _ = call(t, r, http.MethodPost, "/orders/"+o.OrderID+"/seller/evidence", map[string]any{"anonUserId": "anon-buyer"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestCatalogProducts(t *testing.T) {
	r := newEngine(t)
	code, env := call(t, r, http.MethodGet, "/catalog/products", nil)
	require.Equal(t, http.StatusOK, code)
	products := decode[[]catalog.Product](t, env)
	require.Len(t, products, 3)
	assert.Equal(t, "P001", products[0].ID)
}

func TestCreateLead_LooseConditions(t *testing.T) {
	r := newEngine(t)

	code, env := call(t, r, http.MethodPost, "/leads", map[string]any{
		"anonUserId":       "anon-buyer",
		"platform":         "naver",
		"budget":           " 150000 ",
		"verifiedOnly":     1,
		"needFastDelivery": "yes",
		"onlyWithinBudget": 0,
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	ld := decode[struct {
		Budget           int64 `json:"budget"`
		VerifiedOnly     bool  `json:"verifiedOnly"`
		NeedFastDelivery bool  `json:"needFastDelivery"`
		OnlyWithinBudget bool  `json:"onlyWithinBudget"`
		CreatedAtMs      int64 `json:"createdAtMs"`
	}](t, env)
	assert.Equal(t, int64(150000), ld.Budget)
	assert.True(t, ld.VerifiedOnly)
	assert.False(t, ld.NeedFastDelivery)
	assert.False(t, ld.OnlyWithinBudget)
	assert.Positive(t, ld.CreatedAtMs)

	code, env = call(t, r, http.MethodPost, "/leads", map[string]any{"anonUserId": "anon-buyer", "budget": nil})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "budget is required", env.Msg)
}

func TestOrder_EmitsCreatedAtMs(t *testing.T) {
	r := newEngine(t)

	code, env := call(t, r, http.MethodPost, "/orders", map[string]any{"anonUserId": "anon-buyer", "productId": "P001"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	o := decode[struct {
		CreatedAtMs int64 `json:"createdAtMs"`
	}](t, env)
	assert.Positive(t, o.CreatedAtMs)
}
