package common

// HttpResponse HTTP响应结构
type HttpResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *HttpResponse {
	return &HttpResponse{
		Code:    200,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *HttpResponse {
	return &HttpResponse{
		Code:    code,
		Message: message,
	}
}

// NewJobFailureResponse 作业失败时仍返回已有的执行报告（脚本、输出、退出码）
func NewJobFailureResponse(code int, err error, report interface{}) *HttpResponse {
	return &HttpResponse{
		Code:    code,
		Message: err.Error(),
		Data:    report,
	}
}
