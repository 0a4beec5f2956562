package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   []byte
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

var resolveResults = []string{"reexecute_approved", "refund_approved", "rejected"}

const (
	// 管理接口遇到 429 时的重试上限与退避
	adminMaxAttempts = 6
	adminBackoffBase = 200 * time.Millisecond
	adminBackoffMax  = 2 * time.Second
)

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminKey := flag.String("admin-key", "dev-admin-key", "admin key for dispute endpoints")
	nOrders := flag.Int("orders", 50, "orders to drive through the lifecycle")
	concurrency := flag.Int("c", 10, "max concurrency")
	adminRate := flag.Float64("admin-rate", 5, "admin requests per second; keep <= server ADMIN_RATE_PER_SEC")
	adminBurst := flag.Int("admin-burst", 10, "admin burst; keep <= server ADMIN_RATE_BURST")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := newDriver(&http.Client{Timeout: 5 * time.Second}, *baseURL, *adminKey, *concurrency, *adminRate, *adminBurst)
	if err := d.run(ctx, *nOrders); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

type driver struct {
	client   *http.Client
	base     string
	adminKey string
	limit    int
	// admin 与服务端 /admin 令牌桶同速，避免整批裁决被 429 拒绝
	admin *rate.Limiter
}

func newDriver(client *http.Client, base, adminKey string, limit int, adminRate float64, adminBurst int) driver {
	if limit <= 0 {
		limit = 1
	}
	// 双重裁决需要一次取 2 个令牌
	if adminBurst < 2 {
		adminBurst = 2
	}
	// <= 0 表示不限速
	lim := rate.Limit(adminRate)
	if adminRate <= 0 {
		lim = rate.Inf
	}
	return driver{
		client:   client,
		base:     base,
		adminKey: adminKey,
		limit:    limit,
		admin:    rate.NewLimiter(lim, adminBurst),
	}
}

func (d driver) run(ctx context.Context, nOrders int) error {
	// 1) 创建 lead 并拿推荐卡片
	var lead struct {
		LeadID string `json:"leadId"`
	}
	if err := d.mustOK(http.MethodPost, "/leads", map[string]any{
		"anonUserId":       "load-buyer",
		"industry":         "retail",
		"goal":             "awareness",
		"platform":         "instagram",
		"budget":           200000,
		"verifiedOnly":     true,
		"needFastDelivery": true,
	}, &lead); err != nil {
		return fmt.Errorf("create lead: %w", err)
	}

	var recs struct {
		Items []struct {
			ID    string `json:"id"`
			Score int64  `json:"score"`
		} `json:"items"`
	}
	if err := d.mustOK(http.MethodGet, "/a/products?leadId="+lead.LeadID, nil, &recs); err != nil {
		return fmt.Errorf("recommend: %w", err)
	}
	if len(recs.Items) == 0 {
		return fmt.Errorf("recommend: no items for lead %s", lead.LeadID)
	}
	productID := recs.Items[0].ID
	fmt.Printf("lead %s -> top product %s (score %d)\n", lead.LeadID, productID, recs.Items[0].Score)

	// 2) 并发下单、提交证据、一半订单发起争议
	fmt.Printf("start lifecycle: orders=%d concurrency=%d\n", nOrders, d.limit)
	orderIDs := make([]string, nOrders)
	disputeIDs := make([]string, nOrders)
	results := make([]Result, nOrders)

	g := new(errgroup.Group)
	g.SetLimit(d.limit)
	for i := 0; i < nOrders; i++ {
		g.Go(func() error {
			user := fmt.Sprintf("load-user-%04d", i)
			orderID, disputeID, res := d.lifecycle(user, lead.LeadID, productID, i%2 == 0)
			orderIDs[i], disputeIDs[i], results[i] = orderID, disputeID, res
			return nil
		})
	}
	_ = g.Wait()
	printSummary("lifecycle", results)

	// 3) 管理员裁决全部争议
	var resolves []Result
	var mu sync.Mutex
	g = new(errgroup.Group)
	g.SetLimit(d.limit)
	for i, id := range disputeIDs {
		if id == "" {
			continue
		}
		g.Go(func() error {
			res := d.resolve(ctx, id, resolveResults[i%len(resolveResults)])
			mu.Lock()
			resolves = append(resolves, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	printSummary("resolve", resolves)
	if failed := countNotOK(resolves); failed > 0 {
		return fmt.Errorf("resolve: %d of %d requests did not return 200", failed, len(resolves))
	}

	// 4) 同一争议并发裁决两次，应当恰好一次 200、一次 409。
	// 先一次性取 2 个令牌，两次请求不会落在被耗尽的桶上。
	_, disputeID, res := d.lifecycle("load-user-double", lead.LeadID, productID, true)
	if res.Err != nil || disputeID == "" {
		return fmt.Errorf("double resolve setup: status=%d err=%v", res.Status, res.Err)
	}
	if err := d.admin.WaitN(ctx, 2); err != nil {
		return fmt.Errorf("double resolve: %w", err)
	}
	double := make([]Result, 2)
	g = new(errgroup.Group)
	for i := range double {
		g.Go(func() error {
			double[i] = d.resolveRetry(ctx, disputeID, "rejected")
			return nil
		})
	}
	_ = g.Wait()
	printSummary("double_resolve", double)
	codes := []int{double[0].Status, double[1].Status}
	sort.Ints(codes)
	if codes[0] != http.StatusOK || codes[1] != http.StatusConflict {
		return fmt.Errorf("double resolve: want one 200 and one 409, got %v", codes)
	}

	// 5) 统计订单最终状态
	statuses := map[string]int{}
	for _, id := range orderIDs {
		if id == "" {
			continue
		}
		var o struct {
			Status string `json:"status"`
		}
		if err := d.mustOK(http.MethodGet, "/orders/"+id, nil, &o); err != nil {
			statuses["error"]++
			continue
		}
		statuses[o.Status]++
	}
	fmt.Println("[final] order status summary:")
	keys := make([]string, 0, len(statuses))
	for k := range statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s -> %d\n", k, statuses[k])
	}
	return nil
}

// lifecycle 创建订单、提交证据并评审，返回最后一次请求的结果。
func (d driver) lifecycle(user, leadID, productID string, raiseIssue bool) (orderID, disputeID string, last Result) {
	var o struct {
		OrderID string `json:"orderId"`
	}
	last = d.call(http.MethodPost, "/orders", map[string]any{
		"anonUserId": user,
		"leadId":     leadID,
		"productId":  productID,
	})
	if !decodeOK(last, &o) {
		return "", "", last
	}
	orderID = o.OrderID

	last = d.call(http.MethodPost, "/orders/"+orderID+"/seller/evidence", map[string]any{
		"anonUserId": user,
		"evidence":   []map[string]any{{"url": "https://example.com/proof/" + orderID}},
	})
	if last.Err != nil || last.Status != http.StatusOK {
		return orderID, "", last
	}

	verdict := "approve"
	if raiseIssue {
		verdict = "issue"
	}
	var review struct {
		Dispute *struct {
			DisputeID string `json:"disputeId"`
		} `json:"dispute"`
	}
	last = d.call(http.MethodPost, "/orders/"+orderID+"/buyer/review", map[string]any{
		"anonUserId": user,
		"verdict":    verdict,
		"issueText":  "load test issue",
	})
	if decodeOK(last, &review) && review.Dispute != nil {
		disputeID = review.Dispute.DisputeID
	}
	return orderID, disputeID, last
}

// resolve 先按管理接口限速取令牌，再发送裁决请求。
func (d driver) resolve(ctx context.Context, disputeID, result string) Result {
	if err := d.admin.Wait(ctx); err != nil {
		return Result{Err: err}
	}
	return d.resolveRetry(ctx, disputeID, result)
}

// resolveRetry 发送裁决请求，遇到 429 时指数退避并重新取令牌。
func (d driver) resolveRetry(ctx context.Context, disputeID, result string) Result {
	backoff := adminBackoffBase
	for attempt := 1; ; attempt++ {
		res := d.call(http.MethodPost, "/admin/disputes/"+disputeID+"/resolve", map[string]any{
			"adminKey": d.adminKey,
			"result":   result,
			"memo":     "load test",
		})
		if res.Err != nil || res.Status != http.StatusTooManyRequests || attempt >= adminMaxAttempts {
			return res
		}
		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > adminBackoffMax {
			backoff = adminBackoffMax
		}
		if err := d.admin.Wait(ctx); err != nil {
			return Result{Err: err}
		}
	}
}

func (d driver) mustOK(method, path string, body, out any) error {
	res := d.call(method, path, body)
	if res.Err != nil {
		return res.Err
	}
	if !decodeOK(res, out) {
		return fmt.Errorf("status=%d body=%s", res.Status, string(res.Body))
	}
	return nil
}

func (d driver) call(method, path string, body any) Result {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{Err: err}
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, d.base+path, r)
	if err != nil {
		return Result{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: b}
}

// decodeOK 解开 200 响应的 data 字段。
func decodeOK(res Result, out any) bool {
	if res.Err != nil || res.Status != http.StatusOK {
		return false
	}
	var env envelope
	if err := json.Unmarshal(res.Body, &env); err != nil || env.Code != 0 {
		return false
	}
	return json.Unmarshal(env.Data, out) == nil
}

func countNotOK(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil || r.Status != http.StatusOK {
			n++
		}
	}
	return n
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 403, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
