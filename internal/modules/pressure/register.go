package pressure

import (
	"log/slog"
	"net/http"

	"bplog/internal/config"
	"bplog/internal/modules/pressure/controller"
	"bplog/internal/modules/pressure/repository"
	"bplog/internal/modules/pressure/service"
)

// RegisterFeature wires the pressure service over repo and mounts its routes.
// The service is returned for other transports such as MQTT.
func RegisterFeature(mux *http.ServeMux, repo repository.ReadingRepository, cfg config.Config, logger *slog.Logger) *service.Service {
	pressureService := service.NewService(repo, service.Options{
		InputTZ: cfg.InputTZ,
		GroupTZ: cfg.GroupTZ,
		Logger:  logger,
	})
	pressureController := controller.NewPressureController(pressureService, controller.Options{
		ChartTZ: cfg.ChartTZ,
		Logger:  logger,
	})
	pressureController.RegisterRoutes(mux)
	return pressureService
}
