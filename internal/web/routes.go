package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/web/handlers"
)

func (s *Server) setupRoutes(repo database.Repository, embedder handlers.Embedder, orchestrator handlers.BatchOrchestrator) {
	// Create handlers
	photosHandler := handlers.NewPhotosHandler(repo)
	processHandler := handlers.NewProcessHandler(repo, embedder)
	clusterHandler := handlers.NewClusterHandler(repo,
		s.config.Cluster.TimeWindow, s.config.Cluster.SimilarityThreshold)
	jobsHandler := handlers.NewJobsHandler(repo, orchestrator, s.jobEvents)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Photos
		r.Post("/photos", photosHandler.Ingest)
		r.Get("/photos", photosHandler.List)
		r.Get("/photos/{id}/image", photosHandler.Image)
		r.Post("/photos/{id}/review", photosHandler.Review)

		// Embedding computation (long-running)
		r.Post("/process/embeddings", processHandler.StartEmbeddings)
		r.Get("/process/{jobId}/events", processHandler.Events)
		r.Delete("/process/{jobId}", processHandler.CancelJob)

		// Clustering
		r.Post("/cluster", clusterHandler.Run)

		// Batch analysis jobs
		r.Post("/jobs", jobsHandler.Create)
		r.Get("/jobs", jobsHandler.List)
		r.Get("/jobs/{jobId}", jobsHandler.Get)
		r.Get("/jobs/{jobId}/events", jobsHandler.Events)
		r.Delete("/jobs/{jobId}", jobsHandler.Cancel)
	})
}
