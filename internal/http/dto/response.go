package dto

const (
	StatusOK     = "OK"
	StatusFailed = "Failed"
)

// Response is the envelope of every admin API reply.
type Response struct {
	Status string  `json:"status"`
	Error  *string `json:"error"`
	Result any     `json:"result"`
}

func OK(result any) Response {
	if result == nil {
		result = struct{}{}
	}
	return Response{Status: StatusOK, Result: result}
}

func Failed(msg string) Response {
	return Response{Status: StatusFailed, Error: &msg, Result: struct{}{}}
}

func InternalError() Response {
	return Failed("Internal error")
}
