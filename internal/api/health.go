package api

import (
	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/model"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the health server.
const HealthService = "capture"

// NewHealthServer returns a health server that follows the controller
// state: SERVING unless the session is in the error state.
func NewHealthServer(ctl *capture.Controller) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, servingStatus(ctl.Snapshot().Session.State))
	ctl.OnStateChange(func(st model.CaptureState) {
		hs.SetServingStatus(HealthService, servingStatus(st))
	})
	return hs
}

func servingStatus(st model.CaptureState) healthpb.HealthCheckResponse_ServingStatus {
	if st == model.StateError {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
