package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tieubaoca/docqa-be/handler"
	"github.com/tieubaoca/docqa-be/middleware"
	"github.com/tieubaoca/docqa-be/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the http server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(); err != nil {
			log.Fatalf("server: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runServer() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	// Repair any inconsistency left by a previous crash before serving.
	report, err := a.documentService.Reconcile(ctx)
	if err != nil {
		log.Printf("startup reconcile: %v", err)
	} else {
		log.Printf("startup reconcile: %d orphan vectors removed, %d chunks re-embedded, %d stale jobs failed",
			report.OrphanVectorsRemoved, report.ChunksReembedded, report.StaleJobsFailed)
	}

	authHandler := handler.NewAuthHandler(a.userService)
	userHandler := handler.NewUserHandler(a.userService)
	documentHandler := handler.NewDocumentHandler(a.documentService, a.mediaService)
	queryHandler := handler.NewQueryHandler(a.queryService)
	websocketHandler := handler.NewWebsocketHandler(service.NewWebsocketService(a.queryService))

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	api := router.Group("/api/v1")
	api.POST("/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWTAuthMiddleware())
	{
		authed.GET("/me", userHandler.Me)
		authed.POST("/documents", documentHandler.Upload)
		authed.GET("/documents", documentHandler.List)
		authed.GET("/documents/:id", documentHandler.Get)
		authed.GET("/documents/:id/status", documentHandler.Status)
		authed.DELETE("/documents/:id", documentHandler.Delete)
		authed.GET("/media/:mediaId", documentHandler.GetMedia)
		authed.POST("/ask", queryHandler.Ask)
		authed.POST("/search", queryHandler.Search)
		authed.GET("/history", queryHandler.History)
		authed.GET("/ws", websocketHandler.Serve)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.JWTAuthMiddleware(), middleware.RequireAdmin())
	{
		admin.POST("/users", userHandler.CreateUser)
		admin.POST("/reconcile", documentHandler.Reconcile)
	}

	srv := &http.Server{
		Addr:    ":" + a.cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	// Let in-flight indexing jobs finish, then flush the index once more.
	a.documentService.Wait()
	if err := a.index.Persist(a.cfg.IndexPath); err != nil {
		log.Printf("persist index on shutdown: %v", err)
	}
	return nil
}
