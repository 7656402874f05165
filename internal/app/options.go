package service

import (
	"github.com/okian/aidect/internal/domain/model"
	"github.com/okian/aidect/pkg/logger"
	"github.com/okian/aidect/pkg/metrics"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithWatchdog sets the liveness monitor reset every iteration.
func WithWatchdog(l Liveness) Option {
	return func(s *Service) {
		if l != nil {
			s.liveness = l
		}
	}
}

// WithMonitorID sets the analysed feed.
func WithMonitorID(id int) Option {
	return func(s *Service) {
		s.monitorID = id
	}
}

// WithTriggerID raises events on another monitor; 0 keeps the analysed one.
func WithTriggerID(id int) Option {
	return func(s *Service) {
		s.triggerID = id
	}
}

// WithTag sets the trigger cause.
func WithTag(tag string) Option {
	return func(s *Service) {
		if tag != "" {
			s.tag = tag
		}
	}
}

// WithClasses sets the reported classes. Detections of other classes are
// dropped.
func WithClasses(classes map[int]string) Option {
	return func(s *Service) {
		s.classes = classes
	}
}

// WithRegion limits analysis to a rectangle of the frame. An empty rectangle
// analyses the full frame.
func WithRegion(r model.Rect) Option {
	return func(s *Service) {
		s.region = r
	}
}

// WithMinArea drops boxes smaller than area pixels.
func WithMinArea(area int) Option {
	return func(s *Service) {
		if area > 0 {
			s.minArea = area
		}
	}
}
