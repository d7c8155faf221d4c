package errinfo

// ErrorInfo is the structured error payload surfaced to the presentation
// layer over RPC.
type ErrorInfo struct {
	ErrorCode  string   `json:"error_code"`
	Phase      string   `json:"phase,omitempty"`
	Retryable  bool     `json:"retryable"`
	Actions    []string `json:"actions,omitempty"`
	ProviderID string   `json:"provider_id,omitempty"`
	ModelID    string   `json:"model_id,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

const (
	CodeDatasetLoadFailed     = "DATASET_LOAD_FAILED"
	CodeNoDatasetLoaded       = "NO_DATASET_LOADED"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeProviderAuthFailed    = "PROVIDER_AUTH_FAILED"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeProviderRateLimited   = "PROVIDER_RATE_LIMITED"
	CodeNetworkUnavailable    = "NETWORK_UNAVAILABLE"
	CodeEgressBlocked         = "EGRESS_BLOCKED_BY_POLICY"
	CodeCapabilityFailed      = "CAPABILITY_FAILED"
	CodeAgentParseFailed      = "AGENT_PARSE_FAILED"
	CodeAgentLoopDetected     = "AGENT_LOOP_DETECTED"
	CodeFileReadFailed        = "FILE_READ_FAILED"
	CodeFileWriteFailed       = "FILE_WRITE_FAILED"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
	ActionUploadFile   = "upload_file"
)

const (
	PhaseDataset  = "dataset"
	PhaseAgent    = "agent"
	PhaseChart    = "chart"
	PhaseReport   = "report"
	PhaseSettings = "settings"
)

func DatasetLoadFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeDatasetLoadFailed,
		Phase:     PhaseDataset,
		Retryable: false,
		Actions:   []string{ActionUploadFile},
		Detail:    detail,
	}
}

func NoDatasetLoaded(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNoDatasetLoaded,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionUploadFile},
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func ProviderNotConfigured(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderNotConfigured,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func ProviderAuthFailed(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderAuthFailed,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

// ProviderRateLimited is kept distinct from ProviderUnavailable so the UI can
// show a "try again shortly" message instead of a generic failure.
func ProviderRateLimited(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderRateLimited,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func NetworkUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNetworkUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func EgressBlocked(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEgressBlocked,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func CapabilityFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeCapabilityFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func AgentParseFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeAgentParseFailed,
		Phase:     PhaseAgent,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func AgentLoopDetected(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeAgentLoopDetected,
		Phase:     PhaseAgent,
		Retryable: false,
		Detail:    detail,
	}
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileReadFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}
