package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	sms "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/sms/v20210111"
)

const tencentOK = "Ok"

var _ Client = (*TencentCloudSMS)(nil)

// TencentCloudSMS 腾讯云短信实现
type TencentCloudSMS struct {
	client *sms.Client
	appID  *string
}

func NewTencentCloudSMS(regionID, secretID, secretKey, appID string) (*TencentCloudSMS, error) {
	client, err := sms.NewClient(common.NewCredential(secretID, secretKey), regionID, profile.NewClientProfile())
	if err != nil {
		return nil, err
	}
	return &TencentCloudSMS{
		client: client,
		appID:  common.StringPtr(appID),
	}, nil
}

func (t *TencentCloudSMS) Send(ctx context.Context, req SendReq) (SendResp, error) {
	if len(req.PhoneNumbers) == 0 {
		return SendResp{}, fmt.Errorf("%w: %v", ErrInvalidParameter, "手机号码不能为空")
	}

	request := sms.NewSendSmsRequest()
	request.SmsSdkAppId = t.appID
	request.SignName = common.StringPtr(req.SignName)
	request.TemplateId = common.StringPtr(req.TemplateID)
	request.TemplateParamSet = common.StringPtrs(req.TemplateParamSet)
	// 腾讯云要求 E.164 格式
	phones := make([]string, 0, len(req.PhoneNumbers))
	for _, phone := range req.PhoneNumbers {
		if !strings.HasPrefix(phone, "+") {
			phone = "+86" + phone
		}
		phones = append(phones, phone)
	}
	request.PhoneNumberSet = common.StringPtrs(phones)

	response, err := t.client.SendSmsWithContext(ctx, request)
	if err != nil {
		return SendResp{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if response.Response == nil {
		return SendResp{}, fmt.Errorf("%w: %v", ErrSendFailed, "响应异常")
	}

	result := SendResp{
		PhoneNumbers: make(map[string]SendRespStatus, len(response.Response.SendStatusSet)),
	}
	if response.Response.RequestId != nil {
		result.RequestID = *response.Response.RequestId
	}
	for _, status := range response.Response.SendStatusSet {
		if status == nil || status.PhoneNumber == nil {
			continue
		}
		var code, msg string
		if status.Code != nil {
			code = *status.Code
		}
		if strings.EqualFold(code, tencentOK) {
			code = OK
		}
		if status.Message != nil {
			msg = *status.Message
		}
		if status.SerialNo != nil && result.BizID == "" {
			result.BizID = *status.SerialNo
		}
		result.PhoneNumbers[strings.TrimPrefix(*status.PhoneNumber, "+86")] = SendRespStatus{
			Code:    code,
			Message: msg,
		}
	}
	return result, nil
}
