package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldOperation     = "operation"
	FieldTransactionID = "transaction_id"
	FieldPeriodKey     = "period_key"
	FieldUserID        = "user_id"
	FieldCurrency      = "currency"
	FieldCount         = "count"
	FieldReason        = "reason"
	FieldError         = "error"
)

// Components defines standard component names
const (
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentPersist   = "persist"
	ComponentFetch     = "fetch"
	ComponentMutate    = "mutate"
	ComponentReconcile = "reconcile"
	ComponentBroadcast = "broadcast"
	ComponentStorage   = "storage"
	ComponentRates     = "rates"
)

// Operations defines standard operation names
const (
	OpFetch      = "fetch"
	OpSave       = "save"
	OpRestore    = "restore"
	OpInvalidate = "invalidate"
	OpConvert    = "convert"
	OpPoll       = "poll"
	OpPublish    = "publish"
	OpConsume    = "consume"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// Fields provides a builder for structured log fields
type Fields map[string]any

// NewFields creates a new Fields instance
func NewFields() Fields {
	return make(Fields)
}

// WithTransaction adds the transaction id field
func (f Fields) WithTransaction(id string) Fields {
	f[FieldTransactionID] = id
	return f
}

// WithPeriod adds the period key field
func (f Fields) WithPeriod(key string) Fields {
	f[FieldPeriodKey] = key
	return f
}

// WithOperation adds the operation field
func (f Fields) WithOperation(op string) Fields {
	f[FieldOperation] = op
	return f
}

// WithUser adds the user id field
func (f Fields) WithUser(userID string) Fields {
	f[FieldUserID] = userID
	return f
}

// WithError adds the error field
func (f Fields) WithError(err error) Fields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// ToSlice converts Fields to a slice for slog
func (f Fields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
