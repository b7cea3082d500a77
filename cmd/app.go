package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"procwatch/app/handler"
	"procwatch/internal/jobs"
	"procwatch/internal/service"
	"procwatch/pkg/config"
	"procwatch/pkg/logger"
	"procwatch/pkg/watcher"

	"github.com/gin-gonic/gin"
)

// Application aggregates all components
type Application struct {
	// Infrastructure components
	config *config.Config

	// Sampler core
	watcher *watcher.Watcher

	// Service layer
	monitorService *service.MonitorService

	// Handler layer
	monitorHandler *handler.MonitorHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	var err error

	// Initialize components in order
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Sampler", app.initWatcher},
		{"Service Layer", app.initServices},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.Infof("Initializing %s...", step.name)
		if err = step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.Infof("%s initialized successfully", step.name)
	}

	logger.Infof("Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.Infof("Starting application components...")

	// 1. Start the sampler and its stream consumer
	app.watcher.Start()
	app.monitorService.Start(app.ctx)
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.monitorService.Wait()
	}()

	// 2. Start background tasks
	if app.jobsManager != nil {
		logger.Infof("Starting background task manager")
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 3. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		addr := fmt.Sprintf(":%d", app.config.Server.Port)
		logger.Infof("HTTP server listening on: %s", addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Infof("All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.Infof("Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Cancel all background tasks
	logger.Infof("Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 2. Stop HTTP server (stop accepting new requests)
	logger.Infof("Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	// 3. Stop the sampler; queued probe work is discarded
	logger.Infof("Stopping sampler...")
	app.watcher.Stop()

	// 4. Wait for all background tasks to complete
	logger.Infof("Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("All background tasks completed")
	case <-shutdownCtx.Done():
		logger.Warnf("Shutdown timeout, some tasks may not have completed")
	}

	// 5. Execute all cleanup functions (in reverse registration order)
	logger.Infof("Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	// 6. Sync logs
	logger.Sync()

	logger.Infof("Graceful shutdown completed")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
