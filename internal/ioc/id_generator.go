package ioc

import (
	"time"

	"github.com/gotomicro/ego/core/econf"
	"github.com/sony/sonyflake"
)

func InitIDGenerator() *sonyflake.Sonyflake {
	type Config struct {
		MachineID uint16 `yaml:"machineId"`
	}
	var cfg Config
	if err := econf.UnmarshalKey("idGenerator", &cfg); err != nil {
		panic(err)
	}
	settings := sonyflake.Settings{
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	// 没有配置就用内网 IP 的低 16 位
	if cfg.MachineID != 0 {
		settings.MachineID = func() (uint16, error) {
			return cfg.MachineID, nil
		}
	}
	sf, err := sonyflake.New(settings)
	if err != nil {
		panic(err)
	}
	return sf
}
