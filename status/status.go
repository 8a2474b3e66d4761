package status

// Statuses a vendued instance moves through. An instance starts up, may wait
// to be elected, restores its auctions from the store and then serves until
// it shuts down or loses the leadership of its cluster.
const (
	StartingUp            = "starting_up"
	WaitingLeaderElection = "waiting_leader_election"
	RestoringAuctions     = "restoring_auctions"
	UpAndRunning          = "up_and_running"
	LostLeadership        = "lost_leadership"
	ShuttingDown          = "shutting_down"
	Unknown               = "unknown"
)

// health is the liveness and readiness reported for a status.
type health struct {
	alive bool
	ready bool
}

// statusHealth maps every valid status to the health it reports. A restoring
// instance is alive but must not get traffic before its books are rebuilt. An
// instance that lost the leadership is reported dead so it gets restarted and
// campaigns again.
var statusHealth = map[string]health{
	StartingUp:            {alive: true},
	WaitingLeaderElection: {alive: true},
	RestoringAuctions:     {alive: true},
	UpAndRunning:          {alive: true, ready: true},
	LostLeadership:        {},
	ShuttingDown:          {alive: true},
	Unknown:               {},
}

// DefaultIsAlive is the IsAlive function used in the DefaultConfig.
func DefaultIsAlive(status string) bool {
	return statusHealth[status].alive
}

// DefaultIsReady is the IsReady function used in the DefaultConfig.
func DefaultIsReady(status string) bool {
	return statusHealth[status].ready
}

// DefaultIsValidStatus is the IsValidStatus function used in the
// DefaultConfig.
func DefaultIsValidStatus(status string) bool {
	_, ok := statusHealth[status]
	return ok
}
