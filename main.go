package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"

	"HPL-backend/internal/catalog"
	"HPL-backend/internal/lending"
	"HPL-backend/internal/platform/auth"
	"HPL-backend/internal/platform/db"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	// 動作モード取得
	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("Usage: go run main.go [dev|release]")
		return
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	authSvc := auth.NewService(conn)
	lendSvc := lending.NewService(conn, policyFromConfig(cfg.Lending))
	catSvc := catalog.NewService(conn)

	// 公開（未認証）: login / register
	auth.RegisterRoutes(r.Group("/api/v1/auth"), authSvc)

	// /api/v1（要認証）
	api := r.Group("/api/v1")
	api.Use(auth.RequireAuth(auth.JWTSecret()))
	lending.RegisterRoutes(api, lendSvc)
	catalog.RegisterRoutes(api, catSvc)

	// /api/v1/admin（管理者のみ）
	admin := api.Group("/admin")
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	lending.RegisterAdminRoutes(admin, lendSvc)
	catalog.RegisterAdminRoutes(admin, catSvc)
	auth.RegisterAdminRoutes(admin, authSvc)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		log.Println("[INFO] listening on http://0.0.0.0:8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}

// policyFromConfig: 未指定フィールドは既定値のまま。
func policyFromConfig(c db.LendingConfig) lending.Policy {
	p := lending.DefaultPolicy()
	if c.PenaltiesEnabled != nil {
		p.PenaltiesEnabled = *c.PenaltiesEnabled
	}
	if c.MaxLoans > 0 {
		p.MaxLoans = c.MaxLoans
	}
	if c.GraceDays != nil && *c.GraceDays >= 0 {
		p.GraceDays = *c.GraceDays
	}
	if c.PenaltyWindowMonths > 0 {
		p.PenaltyWindowMonths = c.PenaltyWindowMonths
	}
	if c.LoanPeriodDays > 0 {
		p.LoanPeriodDays = c.LoanPeriodDays
	}
	return p
}
