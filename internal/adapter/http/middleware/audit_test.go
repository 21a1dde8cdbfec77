package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditLog_ReleaseSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	adminID := uuid.New()
	orderID := uuid.New()

	done := make(chan struct{})
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionEscrowRelease, log.Action)
			assert.Equal(t, "order", log.ResourceType)
			assert.Equal(t, orderID.String(), log.ResourceID)
			assert.Equal(t, adminID, *log.ActorID)
			close(done)
		},
	)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/orders/:id/release", func(c *gin.Context) {
		c.Set(CtxUserID, adminID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/release", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("audit not called")
	}
}

func TestAuditLog_SkipsGET(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.GET("/api/v1/orders/my-orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/my-orders", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditLog_SkipsFailedRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/orders/purchase", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error_code": "ESC_409"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders/purchase", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMapPathToAction(t *testing.T) {
	tests := []struct {
		path         string
		method       string
		wantAction   domain.AuditAction
		wantResource string
	}{
		{"/api/v1/orders/purchase", "POST", domain.AuditActionPurchase, "order"},
		{"/api/v1/orders/dispute", "POST", domain.AuditActionDisputeOpen, "dispute"},
		{"/api/v1/orders/disputes/:id/resolve", "PATCH", domain.AuditActionDisputeResolve, "dispute"},
		{"/api/v1/orders/:id/release", "POST", domain.AuditActionEscrowRelease, "order"},
		{"/api/v1/orders/:id/refund", "POST", domain.AuditActionEscrowRefund, "order"},
		{"/api/v1/orders/cron/release-escrow", "POST", domain.AuditActionAutoRelease, "order"},
		{"/api/v1/orders/my-orders", "GET", "", ""},
		{"/health", "POST", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			action, resource := mapPathToAction(tt.path, tt.method)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantResource, resource)
		})
	}
}
