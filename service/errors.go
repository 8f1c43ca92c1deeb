package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrJobInProgress       = errors.New("project already has an active image job")
	ErrProviderUnavailable = errors.New("image provider not configured")
	ErrLLMUnavailable      = errors.New("llm not configured")
	ErrJobFinished         = errors.New("job already finished")
)

// BackendError 生图后端调用失败，Provider 标明失败来源（local / remote）
type BackendError struct {
	Provider   ProviderKind
	Op         string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend %s failed (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsRemoteFailure 错误是否来自远程订阅式后端
func IsRemoteFailure(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Provider == ProviderRemote
}

// IsLocalFailure 错误是否来自本地推理后端
func IsLocalFailure(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Provider == ProviderLocal
}

// UpstreamError LLM 调用本身失败（网络、鉴权、配额），直接抛给调用方
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s call failed (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
