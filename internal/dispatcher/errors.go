package dispatcher

import "fmt"

// NetworkError 传输层失败，没有收到任何响应，可以重试
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) UserMessage() string {
	return "Could not reach the analysis service. Please check your connection and try again."
}

// AnalysisServiceError 分析服务返回了非2xx响应
// 携带服务端状态码，不做自动重试
type AnalysisServiceError struct {
	Status int
	Body   string
}

func (e *AnalysisServiceError) Error() string {
	return fmt.Sprintf("analysis service returned status %d: %s", e.Status, e.Body)
}

func (e *AnalysisServiceError) UserMessage() string {
	return fmt.Sprintf("The analysis service reported an error (status %d). Please try again later.", e.Status)
}
