package models

// Result is the normalized outcome of an orchestrated operation. Failures never escape as panics.
type Result[T any] struct {
	Success     bool   `json:"success"`
	Data        T      `json:"data"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
	RedirectTo  string `json:"redirectTo,omitempty"`
	NeedsReauth bool   `json:"needsReauth,omitempty"`
}

func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Fail[T any](message, code string) Result[T] {
	return Result[T]{Success: false, Error: message, Code: code}
}
