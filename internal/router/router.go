package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"adstandard/internal/catalog"
	"adstandard/internal/config"
	"adstandard/internal/dispute"
	"adstandard/internal/lead"
	"adstandard/internal/middleware"
	"adstandard/internal/model"
	"adstandard/internal/order"
	"adstandard/internal/pricing"
	"adstandard/internal/recommend"
	"adstandard/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const apiVersion = "v1"

// Deps HTTP 层依赖的服务。Redis 可选，未配置时写接口不限流。
type Deps struct {
	DB       *gorm.DB
	Redis    *rd.Client
	Catalog  catalog.Provider
	Leads    *lead.Service
	Ranker   *recommend.Ranker
	Orders   *order.Service
	Disputes *dispute.Service
	Config   config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	writeLimit := func(c *gin.Context) { c.Next() }
	if d.Redis != nil {
		writeLimit = middleware.RedisRateLimit(d.Redis, "write", d.Config.WriteRateLimit, d.Config.WriteRateWindow)
	}

	r.GET("/health", health(d.Config))
	r.GET("/catalog/products", listProducts(d.Catalog))

	r.POST("/leads", writeLimit, createLead(d.Leads))
	r.GET("/leads/:id", getLead(d.Leads))
	r.GET("/a/products", recommendProducts(d.Leads, d.Ranker))

	r.POST("/orders", writeLimit, createOrder(d.Orders))
	r.GET("/orders/:id", getOrder(d.Orders))
	r.GET("/orders/:id/events", orderEvents(d.Orders))
	r.POST("/orders/:id/seller/evidence", writeLimit, submitEvidence(d.Orders))
	r.POST("/orders/:id/buyer/review", writeLimit, buyerReview(d.Orders))

	admin := r.Group("/admin", middleware.LocalRateLimit(d.Config.AdminRatePerSec, d.Config.AdminRateBurst))
	admin.GET("/disputes", listDisputes(d.Disputes))
	admin.POST("/disputes/:id/resolve", resolveDispute(d.Disputes))
	admin.POST("/dev/reset-db", resetDB(d.DB, d.Disputes, d.Config.DBPath))
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": msg})
}

// fail 把业务错误映射为状态码；内部错误记录日志后只返回通用提示。
func fail(c *gin.Context, err error) {
	var status int
	msg := ""
	switch {
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, model.ErrInvalid):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		status, msg = http.StatusInternalServerError, "internal error"
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

func health(cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, gin.H{"status": "up", "db": cfg.DBPath, "version": apiVersion})
	}
}

func listProducts(p catalog.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, p.List())
	}
}

// createLead 保存买家需求快照。预算与三个开关按报价引擎的宽松规则解析，
// 其余字段严格绑定。
func createLead(leads *lead.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AnonUserID string         `json:"anonUserId" binding:"required"`
			Industry   string         `json:"industry"`
			Goal       string         `json:"goal"`
			Platform   string         `json:"platform"`
			Sort       string         `json:"sort"`
			Extra      map[string]any `json:"extra"`
		}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			badRequest(c, err.Error())
			return
		}
		raw, err := looseBody(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		if v, found := raw["budget"]; !found || v == nil {
			badRequest(c, "budget is required")
			return
		}
		cond := pricing.ParseLead(raw)
		l, err := leads.Create(c.Request.Context(), lead.CreateParams{
			AnonUserID:       req.AnonUserID,
			Industry:         req.Industry,
			Goal:             req.Goal,
			Platform:         req.Platform,
			Budget:           cond.Budget,
			NeedFastDelivery: cond.NeedFastDelivery,
			VerifiedOnly:     cond.VerifiedOnly,
			OnlyWithinBudget: &cond.OnlyWithinBudget,
			Sort:             req.Sort,
			Extra:            req.Extra,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, l)
	}
}

// looseBody 把已缓存的请求体解码成 map，数字保留为 json.Number。
func looseBody(c *gin.Context) (map[string]any, error) {
	cached, _ := c.Get(gin.BodyBytesKey)
	body, _ := cached.([]byte)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func getLead(leads *lead.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		l, err := leads.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, l)
	}
}

// recommendProducts 为 lead 生成排序后的推荐卡片。
func recommendProducts(leads *lead.Service, ranker *recommend.Ranker) gin.HandlerFunc {
	return func(c *gin.Context) {
		leadID := strings.TrimSpace(c.Query("leadId"))
		if leadID == "" {
			badRequest(c, "leadId is required")
			return
		}
		l, err := leads.Get(c.Request.Context(), leadID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"leadId": leadID, "items": ranker.Rank(l)})
	}
}

// createOrder 下单并冻结商品快照与报价。
func createOrder(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AnonUserID      string         `json:"anonUserId" binding:"required,min=3"`
			LeadID          *string        `json:"leadId"`
			ProductID       string         `json:"productId" binding:"required"`
			ProductSnapshot map[string]any `json:"productSnapshot"`
			Payload         map[string]any `json:"payload"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		o, err := orders.Create(c.Request.Context(), order.CreateParams{
			AnonUserID:      req.AnonUserID,
			LeadID:          req.LeadID,
			ProductID:       req.ProductID,
			ProductSnapshot: req.ProductSnapshot,
			Payload:         req.Payload,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, o)
	}
}

func getOrder(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, o)
	}
}

func orderEvents(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := orders.Events(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, events)
	}
}

func submitEvidence(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AnonUserID string           `json:"anonUserId" binding:"required"`
			Evidence   []model.Evidence `json:"evidence"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		o, err := orders.SubmitEvidence(c.Request.Context(), c.Param("id"), req.AnonUserID, req.Evidence)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, o)
	}
}

// buyerReview 买家验收：approve 完成订单，issue 发起争议。
func buyerReview(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AnonUserID string           `json:"anonUserId" binding:"required"`
			Verdict    model.Verdict    `json:"verdict" binding:"required"`
			IssueText  *string          `json:"issueText"`
			Evidence   []model.Evidence `json:"evidence"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := orders.Review(c.Request.Context(), c.Param("id"), order.ReviewParams{
			AnonUserID: req.AnonUserID,
			Verdict:    req.Verdict,
			IssueText:  req.IssueText,
			Evidence:   req.Evidence,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, res)
	}
}

func listDisputes(disputes *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var processed *bool
		if raw := strings.TrimSpace(c.Query("processed")); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				badRequest(c, "processed must be a boolean")
				return
			}
			processed = &v
		}
		list, err := disputes.List(c.Request.Context(), c.Query("adminKey"), processed)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	}
}

// resolveDispute 管理员裁决，同一争议只能裁决一次。
func resolveDispute(disputes *dispute.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AdminKey string                 `json:"adminKey"`
			Result   model.ResolutionResult `json:"result"`
			Memo     *string                `json:"memo"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := disputes.Resolve(c.Request.Context(), c.Param("id"), dispute.ResolveParams{
			AdminKey: req.AdminKey,
			Result:   req.Result,
			Memo:     req.Memo,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, res)
	}
}

// resetDB 清空全部业务数据，仅用于开发环境。
func resetDB(db *gorm.DB, disputes *dispute.Service, dbPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := disputes.Authorize(c.Query("adminKey")); err != nil {
			fail(c, err)
			return
		}
		start := time.Now()
		if err := store.Reset(c.Request.Context(), db); err != nil {
			fail(c, err)
			return
		}
		log.Warn().Str("db", dbPath).Dur("took", time.Since(start)).Msg("database reset")
		ok(c, gin.H{"reset": true, "db": dbPath})
	}
}
