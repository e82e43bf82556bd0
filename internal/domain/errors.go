package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrTerminalState    = fmt.Errorf("execution is in a terminal state")
	ErrDependencyUnmet  = fmt.Errorf("step dependencies not satisfied")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrCatalogEntry     = fmt.Errorf("malformed catalog entry")
	ErrStateCorrupt     = fmt.Errorf("persisted state corrupt")
	ErrDispatchBlocked  = fmt.Errorf("dispatch blocked by circuit breaker")
	ErrBudgetExhausted  = fmt.Errorf("token budget exhausted")
	ErrRetriesExhausted = fmt.Errorf("retry budget exhausted")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Allocator.Allocate")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "pipeline", "catalog")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and the decision log.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeTerminalState    ErrorCode = "TERMINAL_STATE"
	CodeDependencyUnmet  ErrorCode = "DEPENDENCY_UNMET"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeCatalogEntry     ErrorCode = "CATALOG_ENTRY"
	CodeStateCorrupt     ErrorCode = "STATE_CORRUPT"
	CodeDispatchBlocked  ErrorCode = "DISPATCH_BLOCKED"
	CodeBudgetExhausted  ErrorCode = "BUDGET_EXHAUSTED"
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodePipelineNotFound ErrorCode = "PIPELINE_NOT_FOUND"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeTaskNotFound     ErrorCode = "TASK_NOT_FOUND"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeSkillNotFound    ErrorCode = "SKILL_NOT_FOUND"
	CodePipelineInvalid  ErrorCode = "PIPELINE_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrLimitReached:     CodeLimitReached,
	ErrInvalidInput:     CodeInvalidInput,
	ErrTerminalState:    CodeTerminalState,
	ErrDependencyUnmet:  CodeDependencyUnmet,
	ErrConfigLoad:       CodeConfigLoad,
	ErrCatalogEntry:     CodeCatalogEntry,
	ErrStateCorrupt:     CodeStateCorrupt,
	ErrDispatchBlocked:  CodeDispatchBlocked,
	ErrBudgetExhausted:  CodeBudgetExhausted,
	ErrRetriesExhausted: CodeRetriesExhausted,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"pipeline": CodePipelineNotFound,
		"session":  CodeSessionNotFound,
		"task":     CodeTaskNotFound,
		"agent":    CodeAgentNotFound,
		"skill":    CodeSkillNotFound,
	},
	ErrInvalidInput: {
		"pipeline": CodePipelineInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
