// Package httpserver exposes the credit ledger to collaborating services over
// HTTP. Callers follow the hold -> external work -> settle flow; no ledger
// lock is ever held across a request boundary.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/leadpilot/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

// Config aggregates runtime settings for the HTTP facade.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// CreditLedger is the slice of the ledger service the handlers need.
type CreditLedger interface {
	Balance(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType) (ledger.Balance, error)
	PlaceHold(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType, amount ledger.Credits, referenceID ledger.ReferenceID, ttlMinutes int) (ledger.Hold, error)
	Convert(ctx context.Context, holdID ledger.HoldID, actualAmount *int64, description string, metadata ledger.MetadataJSON) (ledger.Settlement, error)
	Release(ctx context.Context, holdID ledger.HoldID, reason string) (ledger.Hold, error)
	Grant(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType, amount ledger.Credits, source ledger.TransactionSource, description string, referenceID string, metadata ledger.MetadataJSON) (string, error)
	GetHold(ctx context.Context, holdID ledger.HoldID) (ledger.Hold, error)
	ListHolds(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType, status *ledger.HoldStatus, limit, offset int) (ledger.HoldPage, error)
	ListTransactions(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error)
}

type httpHandler struct {
	logger *zap.Logger
	ledger CreditLedger
}

// Run boots the HTTP facade using the supplied configuration and blocks until
// ctx is cancelled or the server fails.
func Run(ctx context.Context, logger *zap.Logger, creditLedger CreditLedger, cfg Config) error {
	router := NewRouter(logger, creditLedger, cfg)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credit ledger api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var ginModeOnce sync.Once

// NewRouter assembles the gin engine with all ledger routes.
func NewRouter(logger *zap.Logger, creditLedger CreditLedger, cfg Config) *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{logger: logger, ledger: creditLedger}

	api := router.Group("/api/v1")
	api.GET("/balance", handler.handleBalance)
	api.POST("/holds", handler.handlePlaceHold)
	api.GET("/holds", handler.handleListHolds)
	api.GET("/holds/:hold_id", handler.handleGetHold)
	api.POST("/holds/:hold_id/convert", handler.handleConvert)
	api.POST("/holds/:hold_id/release", handler.handleRelease)
	api.POST("/grants", handler.handleGrant)
	api.GET("/transactions", handler.handleListTransactions)

	return router
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, creditType, ok := handler.bindAccountQuery(ctx)
	if !ok {
		return
	}
	balance, err := handler.ledger.Balance(ctx.Request.Context(), userID, creditType)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balancePayload{
		Total:     balance.Total.Int64(),
		Held:      balance.Held.Int64(),
		Available: balance.Available.Int64(),
	})
}

func (handler *httpHandler) handlePlaceHold(ctx *gin.Context) {
	var request placeHoldRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "malformed json body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	creditType, err := ledger.ParseCreditType(request.CreditType)
	if err != nil {
		writeError(ctx, err)
		return
	}
	amount, err := ledger.NewCreditAmount(request.Amount)
	if err != nil {
		writeError(ctx, err)
		return
	}
	referenceID, err := ledger.NewReferenceID(request.ReferenceID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	hold, err := handler.ledger.PlaceHold(ctx.Request.Context(), userID, creditType, amount, referenceID, request.TTLMinutes)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, toHoldPayload(hold))
}

func (handler *httpHandler) handleGetHold(ctx *gin.Context) {
	holdID, err := ledger.NewHoldID(ctx.Param("hold_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	hold, err := handler.ledger.GetHold(ctx.Request.Context(), holdID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toHoldPayload(hold))
}

func (handler *httpHandler) handleListHolds(ctx *gin.Context) {
	userID, creditType, ok := handler.bindAccountQuery(ctx)
	if !ok {
		return
	}
	var status *ledger.HoldStatus
	if rawStatus := ctx.Query("status"); rawStatus != "" {
		parsed, err := ledger.ParseHoldStatus(rawStatus)
		if err != nil {
			writeError(ctx, err)
			return
		}
		status = &parsed
	}
	limit, ok := handler.intQuery(ctx, "limit", 0)
	if !ok {
		return
	}
	offset, ok := handler.intQuery(ctx, "offset", 0)
	if !ok {
		return
	}
	page, err := handler.ledger.ListHolds(ctx.Request.Context(), userID, creditType, status, limit, offset)
	if err != nil {
		writeError(ctx, err)
		return
	}
	payload := holdPagePayload{
		Holds:      make([]holdPayload, 0, len(page.Holds)),
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	}
	for _, hold := range page.Holds {
		payload.Holds = append(payload.Holds, toHoldPayload(hold))
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleConvert(ctx *gin.Context) {
	holdID, err := ledger.NewHoldID(ctx.Param("hold_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	var request convertRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "malformed json body"))
			return
		}
	}
	metadata, err := ledger.NewMetadataJSON(request.Metadata)
	if err != nil {
		writeError(ctx, err)
		return
	}
	settlement, err := handler.ledger.Convert(ctx.Request.Context(), holdID, request.ActualAmount, request.Description, metadata)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, settlementPayload{
		TransactionID:       settlement.TransactionID,
		RefundTransactionID: settlement.RefundTransactionID,
		AmountDeducted:      settlement.AmountDeducted.Int64(),
		AmountRefunded:      settlement.AmountRefunded.Int64(),
	})
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	holdID, err := ledger.NewHoldID(ctx.Param("hold_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	// The body is optional; a bare release is legal.
	var request releaseRequest
	_ = ctx.ShouldBindJSON(&request)
	hold, err := handler.ledger.Release(ctx.Request.Context(), holdID, request.Reason)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toHoldPayload(hold))
}

func (handler *httpHandler) handleGrant(ctx *gin.Context) {
	var request grantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "malformed json body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	creditType, err := ledger.ParseCreditType(request.CreditType)
	if err != nil {
		writeError(ctx, err)
		return
	}
	amount, err := ledger.NewCreditAmount(request.Amount)
	if err != nil {
		writeError(ctx, err)
		return
	}
	source, err := ledger.ParseTransactionSource(request.Source)
	if err != nil {
		writeError(ctx, err)
		return
	}
	metadata, err := ledger.NewMetadataJSON(request.Metadata)
	if err != nil {
		writeError(ctx, err)
		return
	}
	transactionID, err := handler.ledger.Grant(ctx.Request.Context(), userID, creditType, amount, source, request.Description, request.ReferenceID, metadata)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, grantPayload{TransactionID: transactionID})
}

func (handler *httpHandler) handleListTransactions(ctx *gin.Context) {
	userID, creditType, ok := handler.bindAccountQuery(ctx)
	if !ok {
		return
	}
	before, ok := handler.int64Query(ctx, "before", 0)
	if !ok {
		return
	}
	limit, ok := handler.intQuery(ctx, "limit", 0)
	if !ok {
		return
	}
	transactions, err := handler.ledger.ListTransactions(ctx.Request.Context(), userID, creditType, before, limit)
	if err != nil {
		writeError(ctx, err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, toTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) bindAccountQuery(ctx *gin.Context) (ledger.UserID, ledger.CreditType, bool) {
	userID, err := ledger.NewUserID(ctx.Query("user_id"))
	if err != nil {
		writeError(ctx, err)
		return ledger.UserID{}, "", false
	}
	creditType, err := ledger.ParseCreditType(ctx.Query("credit_type"))
	if err != nil {
		writeError(ctx, err)
		return ledger.UserID{}, "", false
	}
	return userID, creditType, true
}

func (handler *httpHandler) intQuery(ctx *gin.Context, name string, fallback int) (int, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "query parameter "+name+" must be an integer"))
		return 0, false
	}
	return value, true
}

func (handler *httpHandler) int64Query(ctx *gin.Context, name string, fallback int64) (int64, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "query parameter "+name+" must be an integer"))
		return 0, false
	}
	return value, true
}
