package messaging

// Routing keys on the shared topic exchange.
const (
	RouteRepositoryProcess  = "repository.process"
	RouteRepositoryCloned   = "repository.cloned"
	RouteRepositoryAnalyzed = "repository.analyzed"
	RouteRepositoryDeleted  = "repository.deleted"
	RouteRepositoryFailed   = "repository.failed"
)

// Queue names. Each queue binds exactly one routing key.
const (
	QueueRepositoryClone  = "repository_clone_queue"
	QueueRepositoryDelete = "repository_delete_queue"
	QueueAnalysis         = "analysis_queue"
)
