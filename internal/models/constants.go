package models

const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

const (
	EntityProduct             = "product"
	EntityProductFolder       = "productfolder"
	EntityCustomEntity        = "customentity"
	EntityCustomEntityElement = "customentity_element"
	EntityOrganization        = "organization"
	EntityEmployee            = "employee"
	EntitySalesChannel        = "saleschannel"
	EntityState               = "state"
)

const (
	DirectionSourceToDestination = "source_to_destination"
)

const (
	// SafetyThreshold requests are never spent by admission.
	SafetyThreshold = 5

	// DefaultRetryAfterSeconds is used when the reset time of a budget is unknown.
	DefaultRetryAfterSeconds = 60

	// PageSize of list requests on the remote platform.
	PageSize = 100

	// BaseRequestCost covers prefetching shared dependencies before a batch.
	BaseRequestCost = 5

	// DefaultMaxAttempts for a task when the caller does not set one.
	DefaultMaxAttempts = 3

	// DefaultBudgetTTL время жизни бюджета запросов в кэше, больше окна платформы (60 с)
	DefaultBudgetTTL = 90 // секунд

	// MappingCacheTTL время жизни закэшированного соответствия
	MappingCacheTTL = 10 * 60 // 10 минут в секундах

	// RecentFailuresLimit количество последних ошибок в статистике
	RecentFailuresLimit = 20
)
