package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	"github.com/alibabacloud-go/tea/tea"
)

var _ Client = (*AliyunSMS)(nil)

// AliyunSMS 阿里云短信实现
type AliyunSMS struct {
	client *dysmsapi.Client
}

// NewAliyunSMS 创建阿里云短信实例
func NewAliyunSMS(regionID, accessKeyID, accessKeySecret string) (*AliyunSMS, error) {
	config := &openapi.Config{
		AccessKeyId:     tea.String(accessKeyID),
		AccessKeySecret: tea.String(accessKeySecret),
		RegionId:        tea.String(regionID),
		Endpoint:        tea.String("dysmsapi.aliyuncs.com"),
	}

	client, err := dysmsapi.NewClient(config)
	if err != nil {
		return nil, err
	}
	return &AliyunSMS{client: client}, nil
}

func (a *AliyunSMS) Send(_ context.Context, req SendReq) (SendResp, error) {
	if len(req.PhoneNumbers) == 0 {
		return SendResp{}, fmt.Errorf("%w: %v", ErrInvalidParameter, "手机号码不能为空")
	}

	templateParam := ""
	if req.TemplateParam != nil {
		jsonParams, err := json.Marshal(req.TemplateParam)
		if err != nil {
			return SendResp{}, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
		}
		templateParam = string(jsonParams)
	}

	request := &dysmsapi.SendSmsRequest{
		// 多个手机号码用逗号分隔
		PhoneNumbers:  tea.String(strings.Join(req.PhoneNumbers, ",")),
		SignName:      tea.String(req.SignName),
		TemplateCode:  tea.String(req.TemplateID),
		TemplateParam: tea.String(templateParam),
	}

	response, err := a.client.SendSms(request)
	if err != nil {
		return SendResp{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if response.Body == nil || response.Body.Code == nil {
		return SendResp{}, fmt.Errorf("%w: %v", ErrSendFailed, "响应异常")
	}
	if *response.Body.Code != OK {
		return SendResp{}, fmt.Errorf("%w: Code = %s, Message = %s", ErrSendFailed,
			*response.Body.Code, tea.StringValue(response.Body.Message))
	}

	result := SendResp{
		RequestID:    tea.StringValue(response.Body.RequestId),
		BizID:        tea.StringValue(response.Body.BizId),
		PhoneNumbers: make(map[string]SendRespStatus, len(req.PhoneNumbers)),
	}

	// 阿里云短信发送接口不返回每个手机号的状态，只返回整体状态
	// 所以这里为每个手机号设置相同的状态
	for _, phone := range req.PhoneNumbers {
		// 去掉可能的+86前缀
		cleanPhone := strings.TrimPrefix(phone, "+86")
		result.PhoneNumbers[cleanPhone] = SendRespStatus{
			Code:    *response.Body.Code,
			Message: tea.StringValue(response.Body.Message),
		}
	}
	return result, nil
}
