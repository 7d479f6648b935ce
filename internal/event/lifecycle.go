package event

import "argon/internal/domain"

// ApplicationLaunched is posted once the adapter is connected.
type ApplicationLaunched struct {
	App domain.Application
}

func (ApplicationLaunched) EventType() string { return "ApplicationLaunched" }

// ApplicationShutdown is posted before the adapter is stopped.
type ApplicationShutdown struct {
	App domain.Application
}

func (ApplicationShutdown) EventType() string { return "ApplicationShutdown" }
