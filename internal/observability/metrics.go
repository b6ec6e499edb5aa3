package observability

const (
	MPaymentOperations       MetricKey = "payment_operations_total"
	MPaymentOperationLatency MetricKey = "payment_operation_duration_seconds"
	MGatewayRequests         MetricKey = "gateway_requests_total"
	MGatewayRequestLatency   MetricKey = "gateway_request_duration_seconds"
)
