package relay

import "fmt"

// ValidationError 表示请求参数不合法，对应 HTTP 400。
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// UpstreamError 包装补全调用的任何失败，对应 HTTP 500。
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("LLM API error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StoreError 表示会话存储读写失败，对应 HTTP 500。Op 为 load/save/delete。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s session: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
