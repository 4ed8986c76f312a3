package ioc

import (
	"gitee.com/flycash/notification-dispatch/internal/service/provider/sms/client"
	"github.com/gotomicro/ego/core/econf"
)

const (
	smsClientAliyun       = "aliyun"
	smsClientTencentCloud = "tencentcloud"
)

func InitAliyunSms() client.Client {
	type Config struct {
		RegionID        string `yaml:"regionId"`
		AccessKeyID     string `yaml:"accessKeyId"`
		AccessKeySecret string `yaml:"accessKeySecret"`
	}
	var cfg Config
	err := econf.UnmarshalKey("sms.aliyun", &cfg)
	if err != nil {
		panic(err)
	}
	cli, err := client.NewAliyunSMS(cfg.RegionID, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		panic(err)
	}
	return cli
}

func InitTxSms() client.Client {
	type Config struct {
		RegionID  string `yaml:"regionId"`
		SecretID  string `yaml:"secretId"`
		SecretKey string `yaml:"secretKey"`
		AppID     string `yaml:"appId"`
	}
	var cfg Config
	err := econf.UnmarshalKey("sms.tx", &cfg)
	if err != nil {
		panic(err)
	}
	cli, err := client.NewTencentCloudSMS(cfg.RegionID, cfg.SecretID, cfg.SecretKey, cfg.AppID)
	if err != nil {
		panic(err)
	}
	return cli
}

// InitSmsClients 只初始化配置了的厂商
func InitSmsClients() map[string]client.Client {
	res := make(map[string]client.Client, 2)
	if econf.Get("sms.aliyun") != nil {
		res[smsClientAliyun] = InitAliyunSms()
	}
	if econf.Get("sms.tx") != nil {
		res[smsClientTencentCloud] = InitTxSms()
	}
	return res
}
