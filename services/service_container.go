package services

import "github.com/mbocsi/accesswatch/store"

// NewServiceContainer wires every service to one repository and publisher.
// pub may be nil, in which case changes are not announced.
func NewServiceContainer(repo store.Repository, pub Publisher) *ServiceContainer {
	return &ServiceContainer{
		Access: NewAccessService(repo, pub),
		Device: NewDeviceService(repo, pub),
		Alert:  NewAlertService(repo, pub),
		Stats:  NewStatsService(repo),
	}
}
