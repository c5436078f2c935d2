package mcpctl

// Status is the supervisor's reconciled view of an instance, mapped from
// backend-observed pod phase and conditions per spec.md §4.3's table.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusStarting Status = "Starting"
	StatusRunning  Status = "Running"
	StatusStopping Status = "Stopping"
	StatusStopped  Status = "Stopped"
	StatusFailed   Status = "Failed"
	StatusNotFound Status = "NotFound"
)

// ServerInstance is mutable and supervisor-owned. It is created on
// successful manifest submission and mutated only by the reconciler loop;
// it is destroyed on explicit stop or after two consecutive NotFound
// reconcile cycles.
type ServerInstance struct {
	ServerID      string
	PodName       string
	ServerType    ServerType
	Name          string
	Transport     Transport
	Status        Status
	StatusReason  string
	Ready         bool
	StartTimeUnix int64
	Config        ServerConfig

	// notFoundStreak counts consecutive reconcile cycles that observed no
	// backing pod; two in a row triggers garbage collection.
	notFoundStreak int
}

// Key returns the (server_type, name) uniqueness key for this instance.
func (i *ServerInstance) Key() InstanceKey {
	return InstanceKey{ServerType: i.ServerType, Name: i.Name}
}

// ObserveNotFound increments the NotFound streak and reports whether the
// instance has now crossed the garbage-collection threshold.
func (i *ServerInstance) ObserveNotFound() (collect bool) {
	i.notFoundStreak++
	i.Status = StatusNotFound
	i.Ready = false
	return i.notFoundStreak >= 2
}

// ObserveFound resets the NotFound streak; call this whenever a reconcile
// cycle finds a backing pod, regardless of its phase.
func (i *ServerInstance) ObserveFound() {
	i.notFoundStreak = 0
}
