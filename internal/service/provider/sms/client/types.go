package client

import (
	"context"
	"errors"
)

const OK = "OK"

var (
	ErrInvalidParameter = errors.New("参数错误")
	ErrSendFailed       = errors.New("短信发送失败")
)

// Client 短信平台的客户端，阿里云和腾讯云各有一个实现
type Client interface {
	Send(ctx context.Context, req SendReq) (SendResp, error)
}

type SendReq struct {
	PhoneNumbers []string
	SignName     string
	TemplateID   string
	// TemplateParam 阿里云按名称填充
	TemplateParam map[string]string
	// TemplateParamSet 腾讯云按顺序填充
	TemplateParamSet []string
}

type SendResp struct {
	RequestID string
	// BizID 平台的回执ID，查询送达状态使用
	BizID        string
	PhoneNumbers map[string]SendRespStatus
}

type SendRespStatus struct {
	Code    string
	Message string
}
