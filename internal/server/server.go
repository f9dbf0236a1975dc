package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/featuregate/internal/alert"
	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/internal/audit"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/entitlement"
	"github.com/smallbiznis/featuregate/internal/events"
	"github.com/smallbiznis/featuregate/internal/feature"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/gateway"
	gatewaydomain "github.com/smallbiznis/featuregate/internal/gateway/domain"
	"github.com/smallbiznis/featuregate/internal/ledger"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/internal/observability"
	obsmiddleware "github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/featuregate/internal/observability/tracing"
	"github.com/smallbiznis/featuregate/internal/provider"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"github.com/smallbiznis/featuregate/internal/ratelimit"
	"github.com/smallbiznis/featuregate/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	"github.com/smallbiznis/featuregate/internal/usage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	events.Module,
	authorization.Module,
	audit.Module,
	provider.Module,
	feature.Module,
	subscription.Module,
	ledger.Module,
	alert.Module,
	usage.Module,
	entitlement.Module,
	gateway.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	gatewaySvc      gatewaydomain.Service
	providerSvc     providerdomain.Service
	featureSvc      featuredomain.Service
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	alertSvc        alertdomain.Service
	invokeLimiter   *ratelimit.InvokeLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	GatewaySvc      gatewaydomain.Service
	ProviderSvc     providerdomain.Service
	FeatureSvc      featuredomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	AlertSvc        alertdomain.Service
	InvokeLimiter   *ratelimit.InvokeLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		gatewaySvc:      p.GatewaySvc,
		providerSvc:     p.ProviderSvc,
		featureSvc:      p.FeatureSvc,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		alertSvc:        p.AlertSvc,
		invokeLimiter:   p.InvokeLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.RequireTenantIdentity())

	// -------- Features --------
	api.GET("/features", s.ListAvailableFeatures)
	api.POST("/features/:code/invoke", s.InvokeRateLimit(), s.InvokeFeature)

	// -------- Usage --------
	api.GET("/usage", s.ListOwnUsage)

	// -------- Credits --------
	api.GET("/credits", s.GetOwnCredits)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.RequireAdminIdentity())

	// -------- Providers --------
	admin.POST("/providers", s.authorizeAdmin(authorization.ObjectProvider, authorization.ActionProviderCreate), s.CreateProvider)
	admin.GET("/providers", s.authorizeAdmin(authorization.ObjectProvider, authorization.ActionProviderView), s.ListProviders)
	admin.GET("/providers/:id", s.authorizeAdmin(authorization.ObjectProvider, authorization.ActionProviderView), s.GetProvider)
	admin.PATCH("/providers/:id", s.authorizeAdmin(authorization.ObjectProvider, authorization.ActionProviderUpdate), s.UpdateProvider)
	admin.DELETE("/providers/:id", s.authorizeAdmin(authorization.ObjectProvider, authorization.ActionProviderDelete), s.DeleteProvider)
	admin.POST("/providers/:id/test", s.authorizeAdmin(authorization.ObjectProvider, authorization.ActionProviderTest), s.TestProvider)

	// -------- Features --------
	admin.POST("/features", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureCreate), s.CreateFeature)
	admin.GET("/features", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureView), s.ListFeatures)
	admin.GET("/features/:id", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureView), s.GetFeature)
	admin.PATCH("/features/:id", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureUpdate), s.UpdateFeature)
	admin.POST("/features/:id/publish", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureLifecycle), s.PublishFeature)
	admin.POST("/features/:id/deprecate", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureLifecycle), s.DeprecateFeature)
	admin.POST("/features/:id/archive", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureLifecycle), s.ArchiveFeature)
	admin.POST("/features/:id/testing", s.authorizeAdmin(authorization.ObjectFeature, authorization.ActionFeatureLifecycle), s.MoveFeatureToTesting)

	tenants := admin.Group("/tenants/:tenantId")

	// -------- Subscriptions --------
	tenants.GET("/subscriptions", s.authorizeAdmin(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListSubscriptions)
	tenants.PUT("/subscriptions/:featureId", s.authorizeAdmin(authorization.ObjectSubscription, authorization.ActionSubscriptionAssign), s.AssignSubscription)
	tenants.DELETE("/subscriptions/:featureId", s.authorizeAdmin(authorization.ObjectSubscription, authorization.ActionSubscriptionRevoke), s.RevokeSubscription)

	// -------- User Access --------
	tenants.GET("/users/:userId/features", s.authorizeAdmin(authorization.ObjectUserAccess, authorization.ActionUserAccessView), s.ListUserAccess)
	tenants.PUT("/users/:userId/features/:featureId", s.authorizeAdmin(authorization.ObjectUserAccess, authorization.ActionUserAccessManage), s.SetUserAccess)
	tenants.DELETE("/users/:userId/features/:featureId", s.authorizeAdmin(authorization.ObjectUserAccess, authorization.ActionUserAccessManage), s.RemoveUserAccess)

	// -------- Credits --------
	tenants.GET("/credits", s.authorizeAdmin(authorization.ObjectCredits, authorization.ActionCreditsView), s.GetTenantCredits)
	tenants.POST("/credits", s.authorizeAdmin(authorization.ObjectCredits, authorization.ActionCreditsGrant), s.GrantCredits)
	tenants.PATCH("/credits", s.authorizeAdmin(authorization.ObjectCredits, authorization.ActionCreditsThreshold), s.SetLowBalanceThreshold)
	tenants.GET("/credits/transactions", s.authorizeAdmin(authorization.ObjectCredits, authorization.ActionCreditsView), s.ListCreditTransactions)

	// -------- Alerts --------
	admin.GET("/alerts", s.authorizeAdmin(authorization.ObjectAlert, authorization.ActionAlertView), s.ListAlerts)
	admin.POST("/alerts/:id/resolve", s.authorizeAdmin(authorization.ObjectAlert, authorization.ActionAlertResolve), s.ResolveAlert)

	// -------- Audit Logs --------
	admin.GET("/audit-logs", s.authorizeAdmin(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
