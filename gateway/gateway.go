package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/service"
	"github.com/example/storefront/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// InstanceLister reports the storefront processes registered alongside this
// one. It is optional; without it server-info lists no peers.
type InstanceLister interface {
	Instances(ctx context.Context, name string) ([]discovery.Instance, error)
}

type Gateway struct {
	config  *config.ServerConfig
	service *service.OrderService
	peers   InstanceLister
	logger  *zap.Logger
	router  *gin.Engine
	server  *http.Server
}

func NewGateway(cfg *config.ServerConfig, svc *service.OrderService, logger *zap.Logger) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(logger))

	return &Gateway{
		config:  cfg,
		service: svc,
		logger:  logger,
		router:  router,
	}
}

func (g *Gateway) WithPeers(peers InstanceLister) *Gateway {
	g.peers = peers
	return g
}

func (g *Gateway) SetupRoutes() {
	// Health check
	g.router.GET("/health", g.health)

	api := g.router.Group("/api")
	{
		api.GET("/server-info", g.serverInfo)

		products := api.Group("/products")
		{
			products.GET("", g.listProducts)
			products.GET("/categories", g.listCategories)
			products.GET("/:id", g.getProduct)
			products.POST("/add", g.createProduct)
			products.PUT("/:id", g.updateProduct)
			products.DELETE("/:id", g.deleteProduct)
		}

		orders := api.Group("/orders")
		{
			orders.POST("", g.createOrder)
			orders.GET("", g.listOrders)
			orders.GET("/:id", g.getOrder)
			orders.PUT("/:id/status", g.updateOrderStatus)
			orders.POST("/item-update", g.updateOrderItem)
			orders.POST("/complete", g.completeOrder)
		}
	}
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start serves until Shutdown is called.
func (g *Gateway) Start() error {
	addr := g.config.Addr()
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) health(c *gin.Context) {
	if err := g.service.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) serverInfo(c *gin.Context) {
	info := g.service.ServerInfo()
	resp := gin.H{
		"name":     g.config.Name,
		"backend":  info.Backend,
		"readOnly": info.ReadOnly,
	}
	if g.peers != nil {
		instances, err := g.peers.Instances(c.Request.Context(), g.config.Name)
		if err != nil {
			g.logger.Warn("Failed to list peer instances", zap.Error(err))
		} else {
			resp["instances"] = instances
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ---- products ----

type productRequest struct {
	Name     *string `json:"name"`
	Price    *string `json:"price"`
	Image    *string `json:"image"`
	Category *string `json:"category"`
	Stock    *int    `json:"stock"`
	// Quantity is the old name of stock.
	Quantity *int `json:"quantity"`
}

func (r productRequest) stock() *int {
	if r.Stock != nil {
		return r.Stock
	}
	return r.Quantity
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (g *Gateway) listProducts(c *gin.Context) {
	filter := store.ProductFilter{
		Category: c.Query("category"),
		Query:    c.Query("q"),
	}
	products, err := g.service.ListProducts(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"total":    len(products),
	})
}

func (g *Gateway) listCategories(c *gin.Context) {
	cats, err := g.service.ListCategories(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (g *Gateway) getProduct(c *gin.Context) {
	id, ok := g.pathID(c)
	if !ok {
		return
	}
	p, err := g.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) createProduct(c *gin.Context) {
	var req productRequest
	if !g.bind(c, &req) {
		return
	}
	p, err := g.service.CreateProduct(c.Request.Context(), store.ProductInput{
		Name:     deref(req.Name),
		Price:    deref(req.Price),
		Image:    deref(req.Image),
		Category: deref(req.Category),
		Stock:    req.stock(),
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (g *Gateway) updateProduct(c *gin.Context) {
	id, ok := g.pathID(c)
	if !ok {
		return
	}
	var req productRequest
	if !g.bind(c, &req) {
		return
	}
	p, err := g.service.UpdateProduct(c.Request.Context(), id, store.ProductPatch{
		Name:     req.Name,
		Price:    req.Price,
		Image:    req.Image,
		Category: req.Category,
		Stock:    req.stock(),
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) deleteProduct(c *gin.Context) {
	id, ok := g.pathID(c)
	if !ok {
		return
	}
	if err := g.service.DeleteProduct(c.Request.Context(), id); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---- orders ----

type orderLineRequest struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Quantity  *int   `json:"quantity"`
}

type orderRequest struct {
	Name     string             `json:"name"`
	Phone    string             `json:"phone"`
	Address  string             `json:"address"`
	Location string             `json:"location"`
	Items    []orderLineRequest `json:"items"`
	Total    int64              `json:"total"`
}

func (r orderRequest) toNewOrder() store.NewOrder {
	lines := make([]store.OrderLine, 0, len(r.Items))
	for _, it := range r.Items {
		pid := it.ProductID
		if pid == 0 {
			pid = it.ID
		}
		qty := 1
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		lines = append(lines, store.OrderLine{ProductID: pid, Quantity: qty, Name: it.Name})
	}
	return store.NewOrder{
		Name:     r.Name,
		Phone:    r.Phone,
		Address:  r.Address,
		Location: r.Location,
		Items:    lines,
		Total:    r.Total,
	}
}

func (g *Gateway) createOrder(c *gin.Context) {
	var req orderRequest
	if !g.bind(c, &req) {
		return
	}
	o, err := g.service.CreateOrder(c.Request.Context(), req.toNewOrder())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"orderId":     o.ID,
		"orderNumber": o.OrderNumber,
		"order":       o,
	})
}

func (g *Gateway) listOrders(c *gin.Context) {
	var filter store.OrderFilter
	if raw := c.Query("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "completed must be true or false"})
			return
		}
		filter.Completed = &completed
	}
	orders, err := g.service.ListOrders(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  len(orders),
	})
}

func (g *Gateway) getOrder(c *gin.Context) {
	id, ok := g.pathID(c)
	if !ok {
		return
	}
	o, err := g.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	id, ok := g.pathID(c)
	if !ok {
		return
	}
	var req statusRequest
	if !g.bind(c, &req) {
		return
	}
	o, err := g.service.SetOrderStatus(c.Request.Context(), id, models.OrderStatus(req.Status))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type itemUpdateRequest struct {
	OrderID   int64  `json:"orderId"`
	Index     *int   `json:"index"`
	ProductID *int64 `json:"productId"`
	Status    string `json:"status"`
}

func (g *Gateway) updateOrderItem(c *gin.Context) {
	var req itemUpdateRequest
	if !g.bind(c, &req) {
		return
	}
	var ref store.ItemRef
	switch {
	case req.Index != nil:
		ref = store.AtIndex(*req.Index)
	case req.ProductID != nil:
		ref = store.ForProduct(*req.ProductID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "index or productId is required"})
		return
	}
	res, err := g.service.SetOrderItemStatus(c.Request.Context(), req.OrderID, store.ItemUpdate{
		Ref:    ref,
		Status: models.ItemStatus(req.Status),
	})
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type completeRequest struct {
	OrderID int64 `json:"orderId"`
}

func (g *Gateway) completeOrder(c *gin.Context) {
	var req completeRequest
	if !g.bind(c, &req) {
		return
	}
	o, err := g.service.CompleteOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": o})
}

// ---- helpers ----

func (g *Gateway) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (g *Gateway) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// fail maps the store error taxonomy onto HTTP statuses.
func (g *Gateway) fail(c *gin.Context, err error) {
	var stock *store.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"productId": stock.ProductID,
			"product":   stock.Name,
			"requested": stock.Requested,
			"remaining": stock.Remaining,
		})
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrReadOnly):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error(), "readOnly": true})
	default:
		g.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
